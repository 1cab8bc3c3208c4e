// Package manifest implements atomic manifest persistence for geoset datasets.
//
// # Overview
//
// The manifest is the root of a persisted dataset. It records the active
// snapshot container, the journal position that snapshot covers, and the
// dataset parameters (SRID, codec) every writer must agree with. Opening a
// dataset starts by loading its manifest.
//
// # Format
//
// Manifests are small JSON documents. A dataset is opened far less often
// than it is queried, so the manifest favors inspectability over encoding
// speed; `cat .geoset/MANIFEST-000003.json` during an incident beats a
// binary dump.
//
// # Atomic Protocol
//
// Save follows a two-phase commit protocol for atomic updates:
//
//  1. Write the manifest blob to MANIFEST-NNNNNN.json (N is the version ID)
//  2. Update the CURRENT pointer file to reference the new manifest
//
// On local filesystems, step 2 uses an atomic rename. On S3, read-after-write
// consistency makes the update immediately visible; stores that support
// conditional writes additionally get first-writer-wins semantics on step 1.
// A crash between the phases leaves the previous version active.
//
// Load reads CURRENT to find the active manifest filename, then loads that
// file.
//
// # Thread Safety
//
// All Store methods (Load, LoadVersion, Save, ListVersions, DeleteVersion)
// are protected by a mutex and safe for concurrent use.
//
// # Version History
//
// Every Save creates a new manifest file; old versions stay until pruned.
// ListVersions returns the available version IDs and LoadVersion loads a
// specific one, so a dataset can be inspected as of any retained version.
package manifest
