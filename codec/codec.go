// Package codec centralizes record and metadata encoding.
//
// Geoset treats codec selection as a compatibility boundary: snapshots and
// journal files record the codec name in their header, and opening an
// existing dataset selects the codec by that name. Changing the default only
// affects newly written files.
package codec

import "fmt"

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
//
// There is deliberately no registration mechanism; the set of codecs a
// binary understands is fixed at build time, so persisted files never depend
// on process-wide mutable state.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// Default is the codec used for newly created datasets.
var Default Codec = GoJSON{}

// MustMarshal is a helper for internal tests/benchmarks.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
