package ledger

import "errors"

var (
	// ErrInvariantViolation indicates usage was observed outside [0, quantity].
	ErrInvariantViolation = errors.New("ledger invariant violation")
	// ErrHalted indicates the ledger refused a call after a violation.
	ErrHalted = errors.New("ledger halted")
	// ErrUnknownEntry indicates a registration for a tuple not in the BOM.
	ErrUnknownEntry = errors.New("entry not in bom")
	// ErrTxDone indicates use of a committed or rolled back transaction.
	ErrTxDone = errors.New("ledger transaction already finished")
)
