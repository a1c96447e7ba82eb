package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/keywatch/internal/identity"
)

var (
	// ErrEmptyKey is returned when a submission carries no key material.
	ErrEmptyKey = errors.New("empty key")

	// ErrEmptyProgram is returned when a submission names no program.
	ErrEmptyProgram = errors.New("empty program slug")

	// ErrReportNotFound is returned by renewal for unknown report ids.
	ErrReportNotFound = errors.New("report not found")

	// ErrRateLimited is returned when a reporter exceeds the submission cap.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Store is the persistence the ingestor needs. Implemented by
// store.BoltStore.
type Store interface {
	// InsertReport stores ev unless a live report already exists for the
	// same (program, key hash, reporter); in that case it returns the
	// existing event and does not write. The check and the write happen
	// in one transaction.
	InsertReport(ctx context.Context, ev *Event) (duplicate *Event, err error)

	// ReclassifyReport overwrites type and timestamp of an existing
	// event in place. Returns ErrReportNotFound for unknown ids.
	ReclassifyReport(ctx context.Context, id string, t EventType, at time.Time) (*Event, error)

	// FindReport returns the live report for the triple, or nil.
	FindReport(ctx context.Context, programSlug, keyHash, reporterHash string) (*Event, error)
}

// Limiter caps submissions per reporter. Implemented by ratelimit.Limiter.
type Limiter interface {
	Allow(reporterHash string) bool
}

// Submission is a raw incoming report before validation.
type Submission struct {
	ProgramSlug         string
	RawKey              string
	EventType           string
	ReporterFingerprint string
	Country             string
	City                string
}

// Result is the definite outcome of a submission. Exactly one of the
// accepted report or the duplicate is set on success.
type Result struct {
	Accepted  bool
	Report    *Event
	Duplicate *Event
}

// Ingestor validates submissions, derives key identity, and refuses to
// double-count a reporter. Storage failures surface to the caller as
// retryable errors; the ingestor never retries on its own.
type Ingestor struct {
	store    Store
	resolver *identity.Resolver
	limiter  Limiter // optional
	logger   *slog.Logger
	now      func() time.Time
}

// NewIngestor creates an ingestor. limiter may be nil.
func NewIngestor(s Store, r *identity.Resolver, limiter Limiter, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:    s,
		resolver: r,
		limiter:  limiter,
		logger:   logger,
		now:      time.Now,
	}
}

// Submit validates and persists a report. A prior live report from the
// same reporter for the same key is returned as Duplicate, not an
// error: the caller routes it to Renew.
func (in *Ingestor) Submit(ctx context.Context, sub Submission) (Result, error) {
	if sub.ProgramSlug == "" {
		return Result{}, ErrEmptyProgram
	}
	if identity.Normalize(sub.RawKey) == "" {
		return Result{}, ErrEmptyKey
	}
	eventType, err := ParseEventType(sub.EventType)
	if err != nil {
		return Result{}, err
	}

	if in.limiter != nil && !in.limiter.Allow(sub.ReporterFingerprint) {
		return Result{}, ErrRateLimited
	}

	id := in.resolver.Resolve(sub.RawKey)
	ev := &Event{
		ID:            uuid.New().String(),
		ProgramSlug:   sub.ProgramSlug,
		KeyHash:       id.Hash,
		KeyIdentifier: id.ShortID,
		Type:          eventType,
		ReporterHash:  sub.ReporterFingerprint,
		Country:       sub.Country,
		City:          sub.City,
		CreatedAt:     in.now(),
	}

	duplicate, err := in.store.InsertReport(ctx, ev)
	if err != nil {
		return Result{}, fmt.Errorf("failed to store report: %w", err)
	}
	if duplicate != nil {
		in.logger.Debug("duplicate report",
			"program", sub.ProgramSlug,
			"key", id.ShortID,
			"prior_type", duplicate.Type,
		)
		return Result{Duplicate: duplicate}, nil
	}

	in.logger.Info("report accepted",
		"program", sub.ProgramSlug,
		"key", id.ShortID,
		"type", eventType,
	)
	return Result{Accepted: true, Report: ev}, nil
}

// Check returns the reporter's live report for a key, or nil when none
// exists. Used by the duplicate-check boundary before offering renewal.
func (in *Ingestor) Check(ctx context.Context, programSlug, rawKey, reporterFingerprint string) (*Event, error) {
	if programSlug == "" {
		return nil, ErrEmptyProgram
	}
	if identity.Normalize(rawKey) == "" {
		return nil, ErrEmptyKey
	}

	id := in.resolver.Resolve(rawKey)
	ev, err := in.store.FindReport(ctx, programSlug, id.Hash, reporterFingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	return ev, nil
}

// Renew reclassifies an existing report in place, letting a reporter's
// opinion flip without inflating counts.
func (in *Ingestor) Renew(ctx context.Context, reportID, newEventType string) (*Event, error) {
	eventType, err := ParseEventType(newEventType)
	if err != nil {
		return nil, err
	}

	ev, err := in.store.ReclassifyReport(ctx, reportID, eventType, in.now())
	if err != nil {
		if errors.Is(err, ErrReportNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to renew report: %w", err)
	}

	in.logger.Info("report renewed",
		"id", reportID,
		"key", ev.KeyIdentifier,
		"type", eventType,
	)
	return ev, nil
}
