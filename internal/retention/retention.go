// Package retention computes the set of allowed expiry durations per
// usergroup, with rank-based inheritance: higher-ranked groups see the
// union of their own and all lower-ranked groups' periods, deduplicated
// and sorted; the default period is the group's configured default, else
// the first of the group's own list, else the nearest lower group's
// default.
package retention

import (
	"sort"

	"github.com/opsworld30/safe/internal/config"
)

// Table is the resolved, inheritance-applied retention table for every
// configured group rank.
type Table struct {
	byRank map[int]resolved
	ranks  []int
}

type resolved struct {
	periods []int
	def     int
}

// Build computes the inherited retention table over the configured
// groups, sorted by rank ascending.
func Build(cfg config.RetentionConfig) *Table {
	groups := append([]config.GroupRetention(nil), cfg.Groups...)
	sort.Slice(groups, func(i, j int) bool { return groups[i].Rank < groups[j].Rank })

	t := &Table{byRank: make(map[int]resolved, len(groups))}

	seen := map[int]bool{}
	var lastDefault int
	for _, g := range groups {
		union := map[int]bool{0: true}
		for rank, r := range t.byRank {
			if rank <= g.Rank {
				for _, p := range r.periods {
					union[p] = true
				}
			}
		}
		for _, p := range g.Periods {
			union[p] = true
		}

		periods := make([]int, 0, len(union))
		for p := range union {
			periods = append(periods, p)
		}
		sort.Ints(periods)

		def := lastDefault
		if g.DefaultPeriod != nil {
			def = *g.DefaultPeriod
		} else if len(g.Periods) > 0 {
			def = g.Periods[0]
		}

		t.byRank[g.Rank] = resolved{periods: periods, def: def}
		lastDefault = def
		if !seen[g.Rank] {
			t.ranks = append(t.ranks, g.Rank)
			seen[g.Rank] = true
		}
	}

	sort.Ints(t.ranks)
	return t
}

// AllowedPeriods returns the allowed retention periods, in hours, for the
// nearest configured rank at or below the caller's rank. 0 always means
// permanent and is always present.
func (t *Table) AllowedPeriods(rank int) []int {
	r, ok := t.nearest(rank)
	if !ok {
		return []int{0}
	}
	return r.periods
}

// DefaultPeriod returns the default retention period, in hours, for the
// nearest configured rank at or below the caller's rank.
func (t *Table) DefaultPeriod(rank int) int {
	r, ok := t.nearest(rank)
	if !ok {
		return 0
	}
	return r.def
}

// IsAllowed reports whether period (hours) is one of the periods allowed
// for rank.
func (t *Table) IsAllowed(rank int, period int) bool {
	for _, p := range t.AllowedPeriods(rank) {
		if p == period {
			return true
		}
	}
	return false
}

func (t *Table) nearest(rank int) (resolved, bool) {
	best := -1
	for _, r := range t.ranks {
		if r <= rank && r > best {
			best = r
		}
	}
	if best == -1 {
		if len(t.ranks) == 0 {
			return resolved{}, false
		}
		best = t.ranks[0]
	}
	return t.byRank[best], true
}
