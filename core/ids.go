package core

import "errors"

// LocalID is a dense, internal identifier for a vertex or row within a single
// associator. It is strictly 32-bit so it can key Roaring bitmap containers
// and adjacency slices directly.
//
// LocalIDs are an implementation detail: they are assigned on insert, recycled
// on removal, and never exposed to callers. Stable identity is always the
// image name or polygon id string.
type LocalID uint32

// MaxLocalID is the maximum possible value for a LocalID.
const MaxLocalID = ^LocalID(0)

// ErrIDSpaceExhausted is returned when a structure has interned the maximum
// number of entries a 32-bit LocalID space can hold.
var ErrIDSpaceExhausted = errors.New("local id space exhausted")
