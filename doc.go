// Package geoset provides an embedded geospatial dataset associator for Go.
//
// A geoset dataset links raster images to vector polygons through a
// containment graph: an edge exists between an image and a polygon exactly
// when the image footprint spatially contains the polygon boundary. The
// Associator keeps that graph, the two metadata tables and the per-polygon
// image counts consistent under every operation, so downloaders, cutters and
// converters can coordinate through one bookkeeping structure.
//
// # Quick Start
//
// In-memory:
//
//	as := geoset.New()
//	defer as.Close()
//
//	as.RegisterPolygon(ctx, table.PolygonRecord{
//	    ID:       "field-7",
//	    Boundary: geometry.Rect(geometry.WGS84, 0, 0, 10, 10),
//	    Classes:  []string{"field"},
//	})
//	contained, _ := as.RegisterImage(ctx, table.ImageRecord{
//	    Name:      "scene-001",
//	    Footprint: geometry.Rect(geometry.WGS84, 0, 0, 20, 20),
//	})
//
// Local dataset directory (journaled, crash-safe):
//
//	as, _ := geoset.Open(ctx, "./data")
//	defer as.Close()
//	// ... register images and polygons ...
//	as.Commit(ctx) // snapshot + manifest swap + journal checkpoint
//
// Object store (commit-based durability, no journal):
//
//	store, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("datasets/fields/"))
//	as, _ := geoset.OpenStore(ctx, store)
//
// # Registration Semantics
//
// Registering is an upsert: a name or id already in the dataset is updated in
// place, its old edges dropped and new ones computed from the new geometry.
// Validation (geometry, reference system, attribute schema) completes before
// anything is mutated, so a failed registration leaves the dataset untouched.
//
// # Durability Model
//
// Local datasets journal every mutation through a write-ahead log and replay
// it on open; Commit cuts a snapshot, swaps the manifest CURRENT pointer and
// truncates the journal. Object-store datasets have no journal: state becomes
// durable only at Commit, and the CURRENT swap is conditional on backends
// that support it (s3.CommitStore).
//
// # Consistency Checking
//
// Check compares the graph vertex sets against the table key sets and every
// stored image count against the graph degree. It is read-only and safe to
// run concurrently with queries; CheckStrict turns a divergence into an
// *ErrInvariantViolation.
package geoset
