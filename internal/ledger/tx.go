package ledger

import (
	"errors"
	"fmt"
)

// Tx groups registrations so they can be undone together. Registrations are
// applied immediately and are visible to other callers; Rollback returns the
// units. A Tx is not safe for concurrent use by itself.
type Tx struct {
	l    *Ledger
	keys []Key
	done bool
}

// Begin starts a transaction on the ledger.
func (l *Ledger) Begin() *Tx {
	return &Tx{l: l}
}

// Register consumes one unit as part of the transaction.
func (tx *Tx) Register(partID string, colorID int, elementID string) (Key, error) {
	if tx.done {
		return Key{}, ErrTxDone
	}
	key, err := tx.l.Register(partID, colorID, elementID)
	if err != nil {
		return key, err
	}
	tx.keys = append(tx.keys, key)
	return key, nil
}

// Acquire validates and registers one unit as part of the transaction.
func (tx *Tx) Acquire(partID string, colorID int, elementID string) (Validation, error) {
	if tx.done {
		return Validation{}, ErrTxDone
	}
	v, err := tx.l.Acquire(partID, colorID, elementID)
	if err == nil && v.Allowed {
		tx.keys = append(tx.keys, v.Entry)
	}
	return v, err
}

// Len returns the number of registrations held by the transaction.
func (tx *Tx) Len() int {
	return len(tx.keys)
}

// Commit keeps every registration.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.keys = nil
	return nil
}

// Rollback returns every registration in reverse order. Rolling back a
// finished transaction is a no-op.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true

	tx.l.mu.Lock()
	defer tx.l.mu.Unlock()
	var errs []error
	for i := len(tx.keys) - 1; i >= 0; i-- {
		if err := tx.l.unregisterLocked(tx.keys[i]); err != nil {
			errs = append(errs, fmt.Errorf("rollback %s: %w", tx.keys[i], err))
		}
	}
	tx.keys = nil
	return errors.Join(errs...)
}
