// Package engine coordinates the mutable state of a dataset: the image and
// polygon tables, the containment graph, the spatial indexes used to prune
// containment candidates, and the saved filter registry. Every mutation and
// query goes through a Coordinator, which owns the single dataset-wide
// reader/writer lock and keeps the pieces consistent with each other.
//
// Mutations follow a validate-then-mutate discipline: inputs are validated
// and containment is computed before anything is written, so a failed call
// leaves the dataset untouched. Each mutation is journaled through the
// Durability interface with a prepare entry before it is applied and a
// commit entry after, which is what makes crash recovery replay only
// completed operations.
//
// The Coordinator implements the persistence snapshot and replay interfaces;
// callers that want durable datasets wire it to a persistence.Manager or to
// a blob store and a write-ahead log.
package engine
