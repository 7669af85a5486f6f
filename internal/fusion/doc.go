// Package fusion turns per-modality template similarities into one ranking
// score and owns the session's adaptive fusion weights.
//
// Scoring is a pure function of a detection, a template and a Weights value.
// Adaptation happens outside scoring: AdaptForCatalog applies the set-size
// rule once per session, ForPart applies the part-type rule per candidate,
// and Tuner nudges the session weights from observed false-positive and hold
// rates on a cron schedule. Every adjustment is clamped to the configured
// per-modality bounds and weights are never renormalized.
package fusion
