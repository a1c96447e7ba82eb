// Package aggregate folds report events into per-key counters. The fold
// is pure and order-independent, so counters can be recomputed from the
// full event log at any time; recompute is the cache-coherence strategy.
package aggregate

import (
	"fmt"

	"github.com/foxzi/keywatch/internal/report"
)

// Counters tallies reports for one key.
type Counters struct {
	Working      int `json:"working"`
	Expired      int `json:"expired"`
	LimitReached int `json:"limit_reached"`
}

// Total is the number of reports counted.
func (c Counters) Total() int {
	return c.Working + c.Expired + c.LimitReached
}

// Negative is the number of reports asserting the key no longer works.
func (c Counters) Negative() int {
	return c.Expired + c.LimitReached
}

// WorkingRatio is working/total, defined as 0 for keys with no reports.
// Always in [0,1], never NaN.
func (c Counters) WorkingRatio() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return float64(c.Working) / float64(total)
}

// RatioLabel is a human-readable form of the working ratio.
func (c Counters) RatioLabel() string {
	return fmt.Sprintf("%d%% working", int(c.WorkingRatio()*100+0.5))
}

// Fold tallies events for one program, keyed by key hash. Events for
// other programs or with unrecognized types are skipped, not fatal.
func Fold(events []report.Event, programSlug string) map[string]Counters {
	out := make(map[string]Counters)
	for _, ev := range events {
		if ev.ProgramSlug != programSlug || ev.KeyHash == "" {
			continue
		}
		c := out[ev.KeyHash]
		switch ev.Type {
		case report.EventWorking:
			c.Working++
		case report.EventExpired:
			c.Expired++
		case report.EventLimitReached:
			c.LimitReached++
		default:
			continue
		}
		out[ev.KeyHash] = c
	}
	return out
}

// Replay materializes the event list described by a sequence of log
// operations. Append inserts, Reclassify rewrites type and timestamp of
// an already-appended event; reclassifications of unknown ids are
// dropped. The result order follows first appearance.
func Replay(ops []report.Op) []report.Event {
	index := make(map[string]int)
	var events []report.Event

	for _, op := range ops {
		switch o := op.(type) {
		case report.Append:
			if _, ok := index[o.Event.ID]; ok {
				continue
			}
			index[o.Event.ID] = len(events)
			events = append(events, o.Event)
		case report.Reclassify:
			i, ok := index[o.ReportID]
			if !ok {
				continue
			}
			events[i].Type = o.NewType
			events[i].CreatedAt = o.At
		}
	}
	return events
}
