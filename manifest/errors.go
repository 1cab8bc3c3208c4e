package manifest

import "errors"

var (
	// ErrNotFound is returned when the dataset has no manifest, or when a
	// requested manifest version does not exist.
	ErrNotFound = errors.New("manifest not found")

	// ErrIncompatibleVersion is returned when a manifest was written by a
	// format revision this build cannot read.
	ErrIncompatibleVersion = errors.New("incompatible manifest version")

	// ErrVersionInUse is returned by DeleteVersion for the manifest CURRENT
	// points at.
	ErrVersionInUse = errors.New("manifest version is current")
)
