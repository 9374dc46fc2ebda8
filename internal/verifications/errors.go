package verifications

import "errors"

var (
	ErrNotFound          = errors.New("verification not found")
	ErrNoDocuments       = errors.New("no analyzable documents")
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrAlreadyFinal is returned when a progress write targets a run that
	// has already reached a terminal status, e.g. a redelivered queue
	// message arriving after a restart finalized the run.
	ErrAlreadyFinal = errors.New("verification already finalized")
)
