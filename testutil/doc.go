// Package testutil provides testing utilities for geoset.
//
// This package is intended for use in tests and benchmarks only. It provides
// deterministic generators for image and polygon records and an exact
// containment oracle for verifying graph state.
//
// # Record Generation
//
//	rng := testutil.NewRNG(seed)
//	images := rng.Images(testutil.DefaultWorld, 1000)
//	polygons := rng.Polygons(testutil.DefaultWorld, 5000)
//
// Generators are seeded and resettable, so the same seed always produces the
// same dataset.
//
// # Ground Truth
//
//	edges := testutil.BruteForceContainment(images, polygons)
//
// BruteForceContainment tests every image/polygon pair directly, without
// spatial pruning. Compare its output against engine state to validate the
// indexed paths.
package testutil
