// Package milestone holds the streak-length → coin payout table.
package milestone

import (
	"fmt"
	"sort"
)

type Definition struct {
	Days  int   `json:"days"`
	Coins int64 `json:"coins"`
}

// Table is an immutable, day-sorted set of milestones.
type Table struct {
	defs []Definition
}

var defaults = []Definition{
	{Days: 3, Coins: 2},
	{Days: 7, Coins: 5},
	{Days: 14, Coins: 10},
	{Days: 21, Coins: 20},
	{Days: 30, Coins: 50},
	{Days: 50, Coins: 100},
	{Days: 100, Coins: 200},
}

func Default() Table {
	t, _ := New(defaults...)
	return t
}

func New(defs ...Definition) (Table, error) {
	out := make([]Definition, len(defs))
	copy(out, defs)
	sort.Slice(out, func(i, j int) bool { return out[i].Days < out[j].Days })

	for i, d := range out {
		if d.Days <= 0 || d.Coins <= 0 {
			return Table{}, fmt.Errorf("milestone: days and coins must be positive, got %d→%d", d.Days, d.Coins)
		}
		if i > 0 && out[i-1].Days == d.Days {
			return Table{}, fmt.Errorf("milestone: duplicate day count %d", d.Days)
		}
	}

	return Table{defs: out}, nil
}

// Lookup is exact-match: a 4-day streak pays nothing even though it passed 3.
func (t Table) Lookup(days int) (int64, bool) {
	i := sort.Search(len(t.defs), func(i int) bool { return t.defs[i].Days >= days })
	if i < len(t.defs) && t.defs[i].Days == days {
		return t.defs[i].Coins, true
	}
	return 0, false
}

// Next returns the smallest milestone strictly above days. Display only.
func (t Table) Next(days int) (Definition, bool) {
	i := sort.Search(len(t.defs), func(i int) bool { return t.defs[i].Days > days })
	if i < len(t.defs) {
		return t.defs[i], true
	}
	return Definition{}, false
}

func (t Table) Definitions() []Definition {
	out := make([]Definition, len(t.defs))
	copy(out, t.defs)
	return out
}

func (t Table) Len() int {
	return len(t.defs)
}
