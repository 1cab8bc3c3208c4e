// Package geometry provides the planar geometry model of an associator
// dataset: shapes (polygonal footprints and boundaries tagged with a spatial
// reference identifier), validation, and the closed containment predicate
// that decides whether an image footprint fully contains a polygon boundary.
//
// Shapes wrap github.com/paulmach/orb geometries, so they interoperate with
// the orb ecosystem (GeoJSON encoding, bound math) while this package owns
// the predicate semantics:
//
//   - Containment is closed: a polygon touching the footprint boundary from
//     the inside is contained.
//   - All comparisons are exact float64 arithmetic with no snapping or
//     tolerance. Degenerate geometries (zero area, unclosed or too-short
//     rings, non-finite coordinates) are rejected by Validate rather than
//     given special predicate semantics.
//   - Every shape carries an SRID; predicates refuse to compare shapes from
//     different reference systems.
package geometry
