// Package pipeline wires the matching components into a per-build session.
//
// A Session owns one template index, one set of fusion weights with its
// tuner, one inventory ledger and one assignment engine. Process runs a frame
// through search, fusion, ledger filtering and assignment, then registers the
// resulting usage in a single ledger transaction so a cancelled or failed run
// leaves no partial usage behind.
package pipeline
