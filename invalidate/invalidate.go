// Package invalidate fans an entity change out to every cache namespace that
// derives from it.
package invalidate

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Kind names an entity whose changes invalidate derived cache entries.
type Kind string

const (
	Profile Kind = "profile"
	Post    Kind = "post"
)

// Store is the subset of the manager the invalidator needs.
type Store interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// Graph maps an entity kind to the key namespaces that depend on it. A
// namespace is a key prefix such as "follow-status:"; the entity id is
// appended to form the prefix that gets dropped.
type Graph struct {
	deps        map[Kind][]string
	parallelism int
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithParallelism bounds the concurrent deletes issued per Invalidate call.
func WithParallelism(n int) GraphOption {
	return func(g *Graph) {
		if n > 0 {
			g.parallelism = n
		}
	}
}

// NewGraph returns an empty graph.
func NewGraph(opts ...GraphOption) *Graph {
	g := &Graph{deps: make(map[Kind][]string), parallelism: 8}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Default returns the relationship table used by the content application:
// a profile change invalidates follow state, counts, avatar and post
// listings keyed by that profile.
func Default() *Graph {
	return NewGraph().
		Add(Profile, "follow-status:", "follow-counts:", "avatar:", "posts:").
		Add(Post, "posts:", "feed:")
}

// Add registers namespaces under kind. Duplicates are ignored.
func (g *Graph) Add(kind Kind, namespaces ...string) *Graph {
	for _, ns := range namespaces {
		if ns == "" || slices.Contains(g.deps[kind], ns) {
			continue
		}
		g.deps[kind] = append(g.deps[kind], ns)
	}
	return g
}

// Namespaces returns the namespaces registered for kind.
func (g *Graph) Namespaces(kind Kind) []string {
	if g == nil {
		return nil
	}
	return slices.Clone(g.deps[kind])
}

// Separator ends an id inside a key, as in "posts:42:page1".
const Separator = ":"

// Prefixes returns the key prefixes listed when entity id of kind changes.
// A listed key is dropped only if the id ends there or is followed by
// [Separator], so id 12 never matches the keys of id 123.
func (g *Graph) Prefixes(kind Kind, id string) []string {
	ns := g.Namespaces(kind)
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n + id
	}
	return out
}

// Invalidate deletes every key under each namespace+id prefix and returns the
// keys it removed. An empty id is rejected so a bare namespace is never
// wiped by accident.
func (g *Graph) Invalidate(ctx context.Context, store Store, kind Kind, id string) ([]string, error) {
	if id == "" {
		return nil, fmt.Errorf("invalidate %s: empty id", kind)
	}
	var keys []string
	for _, p := range g.Prefixes(kind, id) {
		ks, err := store.Keys(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("invalidate %s %q: list %q: %w", kind, id, p, err)
		}
		for _, k := range ks {
			if owns(p, k) {
				keys = append(keys, k)
			}
		}
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallelism)
	for _, k := range keys {
		eg.Go(func() error {
			if err := store.Delete(ctx, k); err != nil {
				return fmt.Errorf("invalidate %s %q: delete %q: %w", kind, id, k, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return keys, nil
}

func owns(prefix, key string) bool {
	rest, ok := strings.CutPrefix(key, prefix)
	return ok && (rest == "" || strings.HasPrefix(rest, Separator))
}

// Invalidate runs Default().Invalidate.
func Invalidate(ctx context.Context, store Store, kind Kind, id string) ([]string, error) {
	return Default().Invalidate(ctx, store, kind, id)
}
