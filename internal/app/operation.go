package app

import "time"

// Operation tracks one CLI command from start to finish. Its ID tags every
// log line written while the command runs.
type Operation struct {
	ID      string
	Name    string
	Actor   string
	Started time.Time
	Status  string // "success" or "error"
}

// NewOperation creates an operation started at now.
func NewOperation(name, actor string, now time.Time) *Operation {
	return &Operation{
		ID:      now.UTC().Format("20060102T150405Z"),
		Name:    name,
		Actor:   actor,
		Started: now,
		Status:  "success",
	}
}

// Fail marks the operation failed when err is non-nil and returns err.
func (op *Operation) Fail(err error) error {
	if err != nil {
		op.Status = "error"
	}
	return err
}

// Duration returns how long the operation has been running at now.
func (op *Operation) Duration(now time.Time) time.Duration {
	return now.Sub(op.Started)
}
