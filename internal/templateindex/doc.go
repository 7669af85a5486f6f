// Package templateindex implements the two-stage template search.
//
// Stage-1 ranks the (optionally pruned) template set by cosine similarity to
// a detection's image embedding and keeps the top Stage1K. It runs on an HNSW
// graph once the set is large enough and by brute force below that.
//
// A confusion gate then decides whether Stage-1 is trustworthy: when the
// detector's class hint has confusion partners and none of them made the
// Stage-1 list, the query is re-ranked exactly over every template (Stage-2)
// and the top Stage2K is returned instead.
//
// An Index is immutable after New and safe for concurrent use.
package templateindex
