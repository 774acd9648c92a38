// Package policy maps cache keys to the data class and TTL they are cached
// under. Keys are matched by exact name, prefix or regular expression.
package policy

import (
	"regexp"
	"strings"
	"time"

	"github.com/Keksclan/tiercache/validator"
)

// Policy is what a matched key group is cached under.
type Policy struct {
	// Class selects the base TTL from the validator table.
	Class validator.Class
	// TTL, when non-zero, replaces the class TTL. It is still scaled on slow
	// connections.
	TTL time.Duration
}

// Rule ranks: lower wins.
const (
	rankExact = iota
	rankPrefix
	rankRegex
)

// rule reports the matched length of a key, or -1.
type rule struct {
	rank  int
	match func(key string) int
}

// GroupBuilder collects the rules of one key group.
type GroupBuilder struct {
	name   string
	rules  []rule
	policy *Policy
}

// Group starts a key group.
func Group(name string) *GroupBuilder {
	return &GroupBuilder{name: name}
}

// Exact matches one key.
func (g *GroupBuilder) Exact(key string) *GroupBuilder {
	g.rules = append(g.rules, rule{rankExact, func(k string) int {
		if k != key {
			return -1
		}
		return len(key)
	}})
	return g
}

// Prefix matches a key namespace such as "profile:".
func (g *GroupBuilder) Prefix(prefix string) *GroupBuilder {
	g.rules = append(g.rules, rule{rankPrefix, func(k string) int {
		if !strings.HasPrefix(k, prefix) {
			return -1
		}
		return len(prefix)
	}})
	return g
}

// Regex matches keys against pattern. An invalid pattern panics.
func (g *GroupBuilder) Regex(pattern string) *GroupBuilder {
	re := regexp.MustCompile(pattern)
	g.rules = append(g.rules, rule{rankRegex, func(k string) int {
		loc := re.FindStringIndex(k)
		if loc == nil {
			return -1
		}
		return loc[1] - loc[0]
	}})
	return g
}

// Policy attaches p to the group.
func (g *GroupBuilder) Policy(p Policy) *GroupBuilder {
	g.policy = &p
	return g
}

// Class is shorthand for Policy(Policy{Class: c}).
func (g *GroupBuilder) Class(c validator.Class) *GroupBuilder {
	return g.Policy(Policy{Class: c})
}
