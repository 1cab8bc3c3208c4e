// Package table implements the two tabular metadata stores of an associator
// dataset: images keyed by name, polygons keyed by id.
//
// Both stores are keyed row maps with upsert/delete/bulk-append semantics
// and deterministic sorted iteration. The polygon store additionally keeps a
// Roaring inverted index from segmentation class to rows, which backs class
// combination and removal, and carries the derived img_count column: it is
// owned by the engine's containment graph and never taken from caller input.
//
// Rows are deep-cloned on the way in and on the way out; the only
// shared views are the Shapes accessors, which exist for the engine's
// containment recomputation hot path and must be treated as read-only.
package table
