package report

import "time"

// Op is one operation in the report log. The log supports exactly two
// mutations: appending a new event and reclassifying an existing one.
// Renewal is Reclassify, not a second Append, which is what keeps the
// aggregate counting each reporter once.
type Op interface {
	isOp()
}

// Append adds a new event to the log.
type Append struct {
	Event Event
}

// Reclassify changes the type and timestamp of an existing event in
// place. Unknown report ids are skipped during replay.
type Reclassify struct {
	ReportID string
	NewType  EventType
	At       time.Time
}

func (Append) isOp()     {}
func (Reclassify) isOp() {}
