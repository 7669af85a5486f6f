package pipeline

import "errors"

var (
	// ErrHalted is returned once the session ledger has hit an invariant
	// violation. The session refuses frames until Rebuild.
	ErrHalted = errors.New("session halted by ledger invariant violation")
	// ErrClosed is returned by Process after Close.
	ErrClosed = errors.New("session closed")
	// ErrUnknownAssignment is returned when a false-positive report names a
	// detection the session never registered.
	ErrUnknownAssignment = errors.New("unknown assignment")
)
