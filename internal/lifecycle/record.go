// Package lifecycle holds the authoritative key records and the state
// machine that advances them over time. Community signal informs status
// through advisory recommendations; it never overrides the record on
// its own.
package lifecycle

import (
	"errors"
	"fmt"
	"time"
)

// Status is the authoritative state of a key record. Automatic
// transitions only advance new -> active and {new,active} -> expired;
// admin overrides can set any value in any direction.
type Status string

const (
	StatusNew     Status = "new"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusLimit   Status = "limit"
)

// ErrInvalidStatus is returned for status strings outside the closed set.
var ErrInvalidStatus = errors.New("invalid status")

// ParseStatus validates a wire-level status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusNew, StatusActive, StatusExpired, StatusLimit:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// KeyRecord is one distributable activation key. The raw key stays in
// admin-only surfaces; aggregate views use KeyHash and the short id
// derived from it.
type KeyRecord struct {
	Key        string     `json:"key"`
	KeyHash    string     `json:"key_hash"`
	Status     Status     `json:"status"`
	Version    string     `json:"version,omitempty"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// EffectiveCreatedAt is CreatedAt with ValidFrom as fallback. The
// second return is false when neither is set.
func (k KeyRecord) EffectiveCreatedAt() (time.Time, bool) {
	if k.CreatedAt != nil {
		return *k.CreatedAt, true
	}
	if k.ValidFrom != nil {
		return *k.ValidFrom, true
	}
	return time.Time{}, false
}

// Working reports whether the record is in a distributable state.
func (k KeyRecord) Working() bool {
	return k.Status == StatusNew || k.Status == StatusActive
}

// Validate checks record invariants.
func (k KeyRecord) Validate() error {
	if k.Key == "" {
		return errors.New("key is required")
	}
	if _, err := ParseStatus(string(k.Status)); err != nil {
		return err
	}
	if k.ValidFrom != nil && k.ValidUntil != nil && k.ValidFrom.After(*k.ValidUntil) {
		return errors.New("valid_from must not be after valid_until")
	}
	return nil
}

// Program is one catalog entry owning a set of key records. Views and
// Downloads are popularity inputs maintained by the site; the engine
// only reads them as numeric scores.
type Program struct {
	Slug      string      `json:"slug"`
	Name      string      `json:"name"`
	Views     int         `json:"views"`
	Downloads int         `json:"downloads"`
	Keys      []KeyRecord `json:"keys"`
}

// WorkingKeyCount is the number of keys in a distributable state.
func (p *Program) WorkingKeyCount() int {
	n := 0
	for _, k := range p.Keys {
		if k.Working() {
			n++
		}
	}
	return n
}
