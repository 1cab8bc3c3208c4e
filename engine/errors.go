package engine

import "errors"

var (
	// ErrClosed is returned by operations on a closed coordinator.
	ErrClosed = errors.New("engine: coordinator closed")

	// ErrNotFound is returned when an operation references an image or
	// polygon that is not in the dataset. The geoset package may translate
	// it into its own sentinel before surfacing it to users.
	ErrNotFound = errors.New("engine: not found")

	// ErrNoClasses is returned when a polygon is registered without any
	// segmentation class.
	ErrNoClasses = errors.New("engine: polygon has no classes")
)
