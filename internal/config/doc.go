// Package config loads, normalizes, and validates bomatch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts) and reads TOML files. The Config type centralizes every knob the
// matching core and the CLI need: search tiering, fusion weights and bounds,
// assignment thresholds, batch scheduling limits, and the catalog location.
//
// Core packages never read Config directly. The pipeline session derives each
// component's own settings struct from it at construction, so a session's
// behaviour is fixed for its lifetime.
package config
