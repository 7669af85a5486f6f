// Package main hosts the bomatch CLI entrypoint and command graph.
//
// The Cobra-based command tree covers configuration scaffolding, catalog
// import and inspection, one-shot frame matching against an imported build,
// ledger inspection and reset, and environment preflight checks. It
// centralizes configuration resolution, catalog store access and logging
// setup so subcommands stay focused on presentation.
//
// Matching semantics live in internal/pipeline and the packages it wires;
// this package only loads inputs, persists usage and renders results.
package main
