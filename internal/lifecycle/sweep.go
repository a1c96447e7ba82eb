package lifecycle

import "time"

// DefaultNewKeyMaxAge is how long a key keeps the "new" label before
// the sweep ages it to "active".
const DefaultNewKeyMaxAge = 30 * 24 * time.Hour

// Sweeper applies time-driven transitions to key records.
type Sweeper struct {
	// NewKeyMaxAge overrides DefaultNewKeyMaxAge when positive.
	NewKeyMaxAge time.Duration
}

// Transition describes one status change made by a sweep.
type Transition struct {
	KeyHash string
	From    Status
	To      Status
}

// Sweep returns a new record list with time-driven transitions applied
// and the transitions that occurred. Callers persist only when the list
// changed. Records lacking the fields a rule needs are skipped, never
// an error. The sweep never reverses expired.
func (s Sweeper) Sweep(records []KeyRecord, now time.Time) ([]KeyRecord, []Transition) {
	maxAge := s.NewKeyMaxAge
	if maxAge <= 0 {
		maxAge = DefaultNewKeyMaxAge
	}

	out := make([]KeyRecord, len(records))
	copy(out, records)

	var transitions []Transition
	for i := range out {
		k := &out[i]

		if k.Status == StatusNew {
			if created, ok := k.EffectiveCreatedAt(); ok && now.Sub(created) > maxAge {
				transitions = append(transitions, Transition{KeyHash: k.KeyHash, From: k.Status, To: StatusActive})
				k.Status = StatusActive
			}
		}

		if (k.Status == StatusNew || k.Status == StatusActive) &&
			k.ValidUntil != nil && now.After(*k.ValidUntil) {
			transitions = append(transitions, Transition{KeyHash: k.KeyHash, From: k.Status, To: StatusExpired})
			k.Status = StatusExpired
		}
	}

	return out, transitions
}
