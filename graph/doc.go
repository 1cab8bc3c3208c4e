// Package graph implements the bipartite containment graph at the heart of
// an associator: image vertices on one side, polygon vertices on the other,
// and an edge wherever an image footprint fully contains a polygon boundary.
//
// Vertex names are interned to dense 32-bit LocalIDs and adjacency is stored
// as Roaring bitmaps on both sides, so membership tests and directional
// queries stay cheap at hundreds of thousands of edges. The two adjacency
// maps mirror each other; every mutation updates both.
//
// The graph stores pure topology. It knows nothing about geometry: deciding
// whether an edge should exist is the engine's job, recording it is ours.
// A Bipartite is not safe for concurrent use; the owning engine serializes
// access under its dataset guard.
package graph
