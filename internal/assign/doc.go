// Package assign turns scored candidates into a one-to-one detection to
// template mapping.
//
// A run pre-filters each detection's candidates, then tiers detections by
// their best remaining score: confident detections are resolved greedily
// first, mid-confidence detections are solved in fixed-size batches with the
// Hungarian algorithm on a worker pool, and the rest are held. Batches run
// under a deadline; a batch that misses it is resolved greedily instead and
// reported as a fallback. When too many batches are pending the caller solves
// new batches itself. Once every tier has merged, proximity suppression drops
// the weaker of any two assignments whose detections overlap.
package assign
