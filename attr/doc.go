// Package attr provides typed attribute documents for image and polygon
// records.
//
// Attributes are modeled as a small tagged union (Value) instead of
// map[string]any: every value carries an explicit Kind, which keeps filtering
// fast and predictable and gives persisted attributes a stable, explicit
// serialization schema with no reflection or runtime type lookup.
//
// A Document is a named collection of Values. Schema optionally constrains
// the kinds of known fields. Filter and FilterSet express predicates over
// documents; filter sets serialize to JSON so curation predicates can be
// saved alongside a dataset and replayed later.
package attr
