package graph

import (
	"fmt"
)

// Kind distinguishes the two vertex sides of the bipartite graph.
type Kind uint8

const (
	// KindImage marks an image footprint vertex.
	KindImage Kind = iota + 1
	// KindPolygon marks a polygon boundary vertex.
	KindPolygon
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindPolygon:
		return "polygon"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// ErrDuplicateVertex reports an attempt to add a vertex whose name is
// already present on that side of the graph.
type ErrDuplicateVertex struct {
	Kind Kind
	Name string
}

func (e *ErrDuplicateVertex) Error() string {
	return fmt.Sprintf("%s %q already present", e.Kind, e.Name)
}

// ErrUnknownVertex reports an operation that referenced a vertex name not
// present on the expected side of the graph.
type ErrUnknownVertex struct {
	Kind Kind
	Name string
}

func (e *ErrUnknownVertex) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Name)
}
