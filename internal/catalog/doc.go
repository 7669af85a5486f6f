// Package catalog defines the domain records shared by the matching core
// (templates, confusion groups, BOM entries, detections) and the SQLite-backed
// store that persists builds and per-build ledger usage between sessions.
//
// The core packages only consume the value types. Store and Import are
// adapters for the CLI: they load a build from disk, and they persist the
// ledger snapshot a session reports after each run.
package catalog
