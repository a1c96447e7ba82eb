package lifecycle

import "github.com/foxzi/keywatch/internal/aggregate"

// Recommendation thresholds: a key needs more than minReports reports
// with a working ratio at or below maxWorkingRatio before community
// signal is surfaced to an operator.
const (
	minReports      = 10
	maxWorkingRatio = 0.2
)

// Recommendation is an advisory status change derived from community
// signal. It is shown to an operator, never applied automatically.
type Recommendation struct {
	Status   Status             `json:"status"`
	Counters aggregate.Counters `json:"counters"`
}

// Recommend returns an advisory status for a key given its aggregated
// counters, or nil when the signal is too weak to act on. Ties between
// expired and limit resolve to expired.
func Recommend(c aggregate.Counters) *Recommendation {
	if c.Total() <= minReports || c.WorkingRatio() > maxWorkingRatio {
		return nil
	}

	status := StatusLimit
	if c.Expired >= c.LimitReached {
		status = StatusExpired
	}
	return &Recommendation{Status: status, Counters: c}
}
