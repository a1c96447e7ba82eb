// Package report models community key-status reports and the ingest
// path that deduplicates them per reporter.
package report

import (
	"errors"
	"fmt"
	"time"
)

// EventType classifies a report. The set is closed; unknown values are
// rejected at parse time, never coerced.
type EventType string

const (
	EventWorking      EventType = "working"
	EventExpired      EventType = "expired"
	EventLimitReached EventType = "limit_reached"
)

// ErrInvalidEventType is returned for event types outside the closed set.
var ErrInvalidEventType = errors.New("invalid event type")

// ParseEventType validates a wire-level event type string.
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case EventWorking, EventExpired, EventLimitReached:
		return EventType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEventType, s)
}

// Valid reports whether t is one of the recognized kinds.
func (t EventType) Valid() bool {
	switch t {
	case EventWorking, EventExpired, EventLimitReached:
		return true
	}
	return false
}

// Event is one community report about a key. At most one live event
// exists per (program, key hash, reporter) — later submissions from the
// same reporter renew the existing event in place instead of appending.
type Event struct {
	ID            string    `json:"id"`
	ProgramSlug   string    `json:"program_slug"`
	KeyHash       string    `json:"key_hash"`
	KeyIdentifier string    `json:"key_identifier"`
	Type          EventType `json:"event_type"`
	ReporterHash  string    `json:"reporter_hash"`
	Country       string    `json:"country,omitempty"`
	City          string    `json:"city,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
