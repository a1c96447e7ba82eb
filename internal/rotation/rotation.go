// Package rotation implements the scheduled re-selection of the
// featured catalog entry.
package rotation

import (
	"errors"
	"fmt"
	"time"
)

// Schedule is the rotation cadence.
type Schedule string

const (
	ScheduleWeekly   Schedule = "weekly"
	ScheduleBiweekly Schedule = "biweekly"
	ScheduleMonthly  Schedule = "monthly"
)

// Criteria is the scoring rule used to choose among candidates.
type Criteria string

const (
	CriteriaHighestWorkingKeys Criteria = "highest_working_keys"
	CriteriaMostPopular        Criteria = "most_popular"
	CriteriaRandom             Criteria = "random"
)

var (
	// ErrInvalidSchedule is returned for schedules outside the closed set.
	ErrInvalidSchedule = errors.New("invalid rotation schedule")

	// ErrInvalidCriteria is returned for criteria outside the closed set.
	ErrInvalidCriteria = errors.New("invalid auto-select criteria")
)

// ParseSchedule validates a wire-level schedule string.
func ParseSchedule(s string) (Schedule, error) {
	switch Schedule(s) {
	case ScheduleWeekly, ScheduleBiweekly, ScheduleMonthly:
		return Schedule(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
}

// ParseCriteria validates a wire-level criteria string.
func ParseCriteria(s string) (Criteria, error) {
	switch Criteria(s) {
	case CriteriaHighestWorkingKeys, CriteriaMostPopular, CriteriaRandom:
		return Criteria(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCriteria, s)
}

// Interval is the minimum time between rotations for the schedule.
func (s Schedule) Interval() time.Duration {
	switch s {
	case ScheduleBiweekly:
		return 14 * 24 * time.Hour
	case ScheduleMonthly:
		return 30 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// State is the singleton featured-selection record. Mutated only by the
// rotator or by an explicit admin override.
type State struct {
	CurrentFeaturedID string     `json:"current_featured_id,omitempty"`
	Schedule          Schedule   `json:"rotation_schedule"`
	LastRotation      *time.Time `json:"last_rotation_date,omitempty"`
	Criteria          Criteria   `json:"auto_select_criteria"`
}

// NeedsRotation reports whether the schedule calls for a new selection.
// A state with no prior rotation always rotates.
func NeedsRotation(last *time.Time, schedule Schedule, now time.Time) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) >= schedule.Interval()
}
