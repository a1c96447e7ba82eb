package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// StateStore persists the featured-selection state. Implemented by
// store.BoltStore.
type StateStore interface {
	FeaturedState(ctx context.Context) (*State, error)
	SaveFeaturedState(ctx context.Context, st *State) error
}

// Candidate is one entry eligible for selection. WorkingKeys counts
// records in a distributable state; Popularity is an externally-owned
// numeric score.
type Candidate struct {
	ID          string
	WorkingKeys int
	Popularity  float64
}

// Evaluation is the outcome of one rotation policy evaluation.
type Evaluation struct {
	// SelectedID is the current selection, or "" when no eligible
	// candidate exists. "" is a valid terminal state, not an error.
	SelectedID string

	// Rotated reports whether this evaluation made a new selection.
	Rotated bool

	Schedule Schedule
	Criteria Criteria
}

// Rotator evaluates the rotation policy on demand. Persisting an
// auto-selection is best-effort: the calling request sees the chosen
// candidate even when the write fails, and the failed write is retried
// on the next evaluation. A queued retry is dropped as soon as a newer
// state is written, so it can never revert a later selection.
type Rotator struct {
	store  StateStore
	logger *slog.Logger
	now    func() time.Time
	pick   func(n int) int

	mu             sync.Mutex
	pendingPersist *State
	persistGen     uint64
	wg             sync.WaitGroup

	// OnPersistFailure is invoked when a best-effort state write fails.
	// Optional; used to feed metrics.
	OnPersistFailure func()

	defaultSchedule Schedule
	defaultCriteria Criteria
}

// NewRotator creates a rotator. defaultSchedule and defaultCriteria
// apply when no state has been persisted yet.
func NewRotator(s StateStore, defaultSchedule Schedule, defaultCriteria Criteria, logger *slog.Logger) *Rotator {
	return &Rotator{
		store:           s,
		logger:          logger,
		now:             time.Now,
		pick:            rand.IntN,
		defaultSchedule: defaultSchedule,
		defaultCriteria: defaultCriteria,
	}
}

// Evaluate applies the rotation policy against the candidate set.
func (r *Rotator) Evaluate(ctx context.Context, candidates []Candidate) (Evaluation, error) {
	state, err := r.loadState(ctx)
	if err != nil {
		return Evaluation{}, err
	}

	eval := Evaluation{
		Schedule: state.Schedule,
		Criteria: state.Criteria,
	}

	if !NeedsRotation(state.LastRotation, state.Schedule, r.now()) && state.CurrentFeaturedID != "" {
		// Stable between rotations; no churn, no writes.
		eval.SelectedID = state.CurrentFeaturedID
		return eval, nil
	}

	selected := r.choose(state.Criteria, candidates)
	if selected == "" {
		return eval, nil
	}

	now := r.now()
	state.CurrentFeaturedID = selected
	state.LastRotation = &now
	r.persistAsync(state)

	r.logger.Info("featured selection rotated",
		"selected", selected,
		"criteria", state.Criteria,
	)
	eval.SelectedID = selected
	eval.Rotated = true
	return eval, nil
}

// SetFeatured records a manual admin selection and resets the rotation
// clock. Unlike auto-selection this write is synchronous: the admin
// needs to know it stuck.
func (r *Rotator) SetFeatured(ctx context.Context, id string) (*State, error) {
	state, err := r.loadState(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	state.CurrentFeaturedID = id
	state.LastRotation = &now

	r.supersedePending()
	if err := r.store.SaveFeaturedState(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to save featured state: %w", err)
	}
	return state, nil
}

// State returns the current persisted state with defaults filled in.
func (r *Rotator) State(ctx context.Context) (*State, error) {
	return r.loadState(ctx)
}

// Wait blocks until in-flight best-effort writes finish.
func (r *Rotator) Wait() {
	r.wg.Wait()
}

// loadState reads the persisted state. A write that failed on an
// earlier evaluation is retried here, synchronously, before any newer
// write can start; the retried snapshot is also the freshest known
// state, so it is what the caller sees.
func (r *Rotator) loadState(ctx context.Context) (*State, error) {
	state, err := r.store.FeaturedState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load featured state: %w", err)
	}
	if state == nil {
		state = &State{}
	}

	r.mu.Lock()
	pending := r.pendingPersist
	r.pendingPersist = nil
	gen := r.persistGen
	r.mu.Unlock()

	if pending != nil {
		if err := r.store.SaveFeaturedState(ctx, pending); err != nil {
			r.logger.Error("failed to persist featured state", "error", err)
			r.mu.Lock()
			if gen == r.persistGen {
				r.pendingPersist = pending
			}
			r.mu.Unlock()
			if r.OnPersistFailure != nil {
				r.OnPersistFailure()
			}
		}
		cp := *pending
		state = &cp
	}

	if state.Schedule == "" {
		state.Schedule = r.defaultSchedule
	}
	if state.Criteria == "" {
		state.Criteria = r.defaultCriteria
	}
	return state, nil
}

func (r *Rotator) choose(criteria Criteria, candidates []Candidate) string {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.WorkingKeys >= 1 {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return ""
	}

	switch criteria {
	case CriteriaMostPopular:
		best := eligible[0]
		for _, c := range eligible[1:] {
			if c.Popularity > best.Popularity {
				best = c
			}
		}
		return best.ID
	case CriteriaRandom:
		return eligible[r.pick(len(eligible))].ID
	default: // CriteriaHighestWorkingKeys
		best := eligible[0]
		for _, c := range eligible[1:] {
			if c.WorkingKeys > best.WorkingKeys {
				best = c
			}
		}
		return best.ID
	}
}

// supersedePending marks any queued or in-flight best-effort write as
// stale: a queued snapshot is dropped and an in-flight failure will not
// re-queue.
func (r *Rotator) supersedePending() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persistGen++
	r.pendingPersist = nil
	return r.persistGen
}

// persistAsync writes state without blocking the calling request. The
// write supersedes any queued retry of an older snapshot; its own
// failure is queued for retry unless a newer write starts first.
func (r *Rotator) persistAsync(state *State) {
	snapshot := *state
	gen := r.supersedePending()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := r.store.SaveFeaturedState(ctx, &snapshot); err != nil {
			r.logger.Error("failed to persist featured state", "error", err)
			r.mu.Lock()
			if gen == r.persistGen {
				r.pendingPersist = &snapshot
			}
			r.mu.Unlock()
			if r.OnPersistFailure != nil {
				r.OnPersistFailure()
			}
		}
	}()
}
