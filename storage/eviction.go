package storage

import (
	"sort"
	"time"
)

// Record describes one stored entry for eviction planning.
type Record struct {
	Key       string
	Timestamp int64
	TTL       int64
	Size      int64
}

func (r Record) expired(nowMs int64) bool {
	return r.TTL > 0 && nowMs-r.Timestamp >= r.TTL
}

// Plan lists the keys an adapter must delete to free space.
type Plan struct {
	Expired []string
	Evicted []string
	Freed   int64
}

// Keys returns every key in the plan, expired ones first.
func (p Plan) Keys() []string {
	out := make([]string, 0, len(p.Expired)+len(p.Evicted))
	out = append(out, p.Expired...)
	return append(out, p.Evicted...)
}

// PlanEviction decides which records to drop so that at least need bytes
// are freed. Expired records always go first (they are all dropped, even
// past need). Only if that is not enough are live records evicted, oldest
// write first, until need is met. Ties on Timestamp break on key so plans
// are deterministic.
func PlanEviction(records []Record, now time.Time, need int64) Plan {
	nowMs := now.UnixMilli()
	var plan Plan
	live := make([]Record, 0, len(records))
	for _, r := range records {
		if r.expired(nowMs) {
			plan.Expired = append(plan.Expired, r.Key)
			plan.Freed += r.Size
			continue
		}
		live = append(live, r)
	}
	if plan.Freed >= need {
		return plan
	}

	sort.Slice(live, func(i, j int) bool {
		if live[i].Timestamp == live[j].Timestamp {
			return live[i].Key < live[j].Key
		}
		return live[i].Timestamp < live[j].Timestamp
	})
	for _, r := range live {
		if plan.Freed >= need {
			break
		}
		plan.Evicted = append(plan.Evicted, r.Key)
		plan.Freed += r.Size
	}
	return plan
}

// ExpiredOnly returns the plan that drops expired records and nothing else.
func ExpiredOnly(records []Record, now time.Time) Plan {
	nowMs := now.UnixMilli()
	var plan Plan
	for _, r := range records {
		if r.expired(nowMs) {
			plan.Expired = append(plan.Expired, r.Key)
			plan.Freed += r.Size
		}
	}
	return plan
}
