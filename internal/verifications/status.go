package verifications

import "fmt"

// Status is the lifecycle state of a verification run. Terminal states are
// final classifications, not error states.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusWarning    Status = "warning"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusSuccess, StatusWarning, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the run is finished. No transition leaves a
// terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusWarning, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	return true
}

// Transition validates the move from s to next.
func (s Status) Transition(next Status) (Status, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
	}
	return next, nil
}

// StatusForRisk maps the aggregated overall risk to a terminal run status.
func StatusForRisk(overallRisk string) Status {
	switch overallRisk {
	case RiskHigh:
		return StatusFailed
	case RiskMedium:
		return StatusWarning
	default:
		return StatusSuccess
	}
}
