package policy

import (
	"time"

	"github.com/Keksclan/tiercache/validator"
)

// Resolver picks the best-matching group for a key.
type Resolver struct {
	groups []*GroupBuilder
}

// NewResolver creates a Resolver over groups.
func NewResolver(groups ...*GroupBuilder) *Resolver {
	return &Resolver{groups: groups}
}

// Default resolves the key namespaces used across the application.
func Default() *Resolver {
	return NewResolver(
		Group("relationship").Prefix("relationship:").Prefix("follow-status:").Class(validator.Relationship),
		Group("follow-counts").Prefix("follow-counts:").Class(validator.FollowCounts),
		Group("feed").Prefix("feed:").Prefix("posts:").Class(validator.Feed),
		Group("profile").Prefix("profile:").Class(validator.Profile),
		Group("computed").Prefix("computed:").Class(validator.Computed),
		Group("avatar").Prefix("avatar:").Class(validator.Avatar),
		Group("static").Prefix("static:").Class(validator.Static),
	)
}

// Resolve finds the group for key.
//
// Exact rules beat prefix rules, which beat regex rules. Among rules of one
// kind the longer match wins, then the group registered first.
func (res *Resolver) Resolve(key string) (groupName string, pol *Policy, ok bool) {
	if res == nil {
		return "", nil, false
	}
	bestRank, bestLen := rankRegex+1, -1
	for _, g := range res.groups {
		for _, r := range g.rules {
			n := r.match(key)
			if n < 0 || r.rank > bestRank || (r.rank == bestRank && n <= bestLen) {
				continue
			}
			bestRank, bestLen = r.rank, n
			groupName, pol, ok = g.name, g.policy, true
		}
	}
	return groupName, pol, ok && pol != nil
}

// TTL returns the TTL key should be cached for. ok is false when no group
// with a usable TTL matches. Slow connections triple the result.
func (res *Resolver) TTL(key string, conn validator.Connection) (time.Duration, bool) {
	_, pol, ok := res.Resolve(key)
	if !ok {
		return 0, false
	}
	if pol.TTL > 0 {
		d := pol.TTL
		if conn != nil && conn.IsSlowConnection() {
			d *= validator.SlowConnectionMultiplier
		}
		return d, true
	}
	d := validator.TTL(pol.Class, conn)
	return d, d > 0
}
