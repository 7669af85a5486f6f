// Package ledger implements the closed-world inventory ledger for one build.
//
// The ledger holds the authoritative (part, color, element) quantities of the
// active BOM and the per-session usage counters. Every call is serialized by
// the ledger's own mutex; callers never touch counters directly.
//
// Validation fails closed: anything not provably allowed is rejected with a
// Reason. Register does not re-validate, but it refuses any increment that
// would push usage past quantity. Such a refusal, like any observed counter
// outside [0, quantity], is an invariant violation: the ledger halts and
// rejects every further call until Rebuild.
package ledger
