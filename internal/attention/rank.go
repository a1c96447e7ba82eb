// Package attention derives the prioritized "needs attention" list for
// operational dashboards from aggregated report counters.
package attention

import (
	"fmt"
	"sort"

	"github.com/foxzi/keywatch/internal/aggregate"
)

// DefaultMaxItems bounds the dashboard list. A presentation bound, not
// a correctness bound; full data stays queryable.
const DefaultMaxItems = 20

// Item is one key surfaced to operators. It carries the short key
// identifier, never the raw key, plus a deep-link path into admin.
type Item struct {
	ProgramSlug  string  `json:"program_slug"`
	KeyID        string  `json:"key_id"`
	KeyHash      string  `json:"key_hash"`
	Working      int     `json:"working"`
	Expired      int     `json:"expired"`
	LimitReached int     `json:"limit_reached"`
	Negative     int     `json:"negative"`
	WorkingRatio float64 `json:"working_ratio"`
	RatioLabel   string  `json:"ratio_label"`
	AdminPath    string  `json:"admin_path"`
}

// Rank filters counters to keys with at least one negative report and
// orders them for triage: most negative volume first, worse working
// ratio first among equals. The list is truncated to maxItems
// (DefaultMaxItems when <= 0). shortIDs maps key hashes to display
// identifiers; hashes without an entry fall back to the hash itself.
func Rank(programSlug string, counters map[string]aggregate.Counters, shortIDs map[string]string, maxItems int) []Item {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	items := make([]Item, 0, len(counters))
	for hash, c := range counters {
		if c.Negative() < 1 {
			continue
		}
		keyID := shortIDs[hash]
		if keyID == "" {
			keyID = hash
		}
		items = append(items, Item{
			ProgramSlug:  programSlug,
			KeyID:        keyID,
			KeyHash:      hash,
			Working:      c.Working,
			Expired:      c.Expired,
			LimitReached: c.LimitReached,
			Negative:     c.Negative(),
			WorkingRatio: c.WorkingRatio(),
			RatioLabel:   c.RatioLabel(),
			AdminPath:    fmt.Sprintf("/admin/programs/%s/keys/%s", programSlug, hash),
		})
	}

	SortItems(items)

	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

// SortItems orders items for triage. Exported so feeds that merge
// several programs keep the same ordering.
func SortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Negative != items[j].Negative {
			return items[i].Negative > items[j].Negative
		}
		if items[i].WorkingRatio != items[j].WorkingRatio {
			return items[i].WorkingRatio < items[j].WorkingRatio
		}
		return items[i].KeyHash < items[j].KeyHash
	})
}
