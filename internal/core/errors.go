package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrUnsupportedChannel = errors.New("unsupported channel")
	ErrBelowThreshold     = errors.New("reading below warning threshold")
	ErrNotFound           = errors.New("warning not found")
	ErrConflict           = errors.New("stale warning state")

	// ErrAdvisoryUnavailable never leaves the advisory package; it is
	// converted to fallback content there.
	ErrAdvisoryUnavailable = errors.New("advisory unavailable")
)

// TransitionError describes a rejected state-machine call.
type TransitionError struct {
	WarningID string
	Op        string
	From      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s warning %s in status %s", e.Op, e.WarningID, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
