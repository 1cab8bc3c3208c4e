package geometry

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// SRID identifies the spatial reference system a shape's coordinates are
// expressed in (EPSG code). A dataset fixes a single SRID at creation and
// every shape entering it must match.
type SRID int32

// WGS84 is the default spatial reference system for new datasets.
const WGS84 SRID = 4326

func (s SRID) String() string {
	return fmt.Sprintf("EPSG:%d", int32(s))
}

// ErrInvalidGeometry reports a shape that cannot participate in containment
// computation, with the reason validation failed.
type ErrInvalidGeometry struct {
	Reason string
}

func (e *ErrInvalidGeometry) Error() string {
	return fmt.Sprintf("invalid geometry: %s", e.Reason)
}

// ErrCRSMismatch reports an operation that mixed shapes from two different
// spatial reference systems.
type ErrCRSMismatch struct {
	Want SRID
	Got  SRID
}

func (e *ErrCRSMismatch) Error() string {
	return fmt.Sprintf("reference system mismatch: want %s, got %s", e.Want, e.Got)
}

// Shape is a polygonal geometry tagged with its spatial reference system.
// The zero Shape is empty and fails validation.
type Shape struct {
	Geom orb.Geometry
	SRID SRID
}

// NewShape wraps an orb geometry in a Shape. Bounds are normalized to their
// polygon form so downstream code only handles Polygon and MultiPolygon.
func NewShape(g orb.Geometry, srid SRID) Shape {
	if b, ok := g.(orb.Bound); ok {
		g = boundPolygon(b)
	}
	return Shape{Geom: g, SRID: srid}
}

// Rect builds a rectangular shape from min/max corners. It is the common
// constructor for tile footprints in tests and examples.
func Rect(srid SRID, minX, minY, maxX, maxY float64) Shape {
	return Shape{
		Geom: boundPolygon(orb.Bound{
			Min: orb.Point{minX, minY},
			Max: orb.Point{maxX, maxY},
		}),
		SRID: srid,
	}
}

func boundPolygon(b orb.Bound) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{b.Min[0], b.Min[1]},
		{b.Max[0], b.Min[1]},
		{b.Max[0], b.Max[1]},
		{b.Min[0], b.Max[1]},
		{b.Min[0], b.Min[1]},
	}}
}

// IsZero reports whether the shape carries no geometry.
func (s Shape) IsZero() bool {
	return s.Geom == nil
}

// Bound returns the axis-aligned bounding box of the shape.
func (s Shape) Bound() orb.Bound {
	if s.Geom == nil {
		return orb.Bound{}
	}
	return s.Geom.Bound()
}

// Clone returns a deep copy of the shape. Orb geometries are backed by
// coordinate slices, so assignment alone would share them.
func (s Shape) Clone() Shape {
	if s.Geom == nil {
		return s
	}
	return Shape{Geom: orb.Clone(s.Geom), SRID: s.SRID}
}

// Validate checks that the shape is a well-formed area geometry: a Polygon
// or MultiPolygon whose rings are closed, have at least four points, carry
// only finite coordinates, and whose exterior rings enclose a nonzero area.
func (s Shape) Validate() error {
	if s.Geom == nil {
		return &ErrInvalidGeometry{Reason: "empty shape"}
	}

	switch g := s.Geom.(type) {
	case orb.Polygon:
		if inv := validatePolygon(g); inv != nil {
			return inv
		}
		return nil
	case orb.MultiPolygon:
		if len(g) == 0 {
			return &ErrInvalidGeometry{Reason: "empty multipolygon"}
		}
		for i, p := range g {
			if inv := validatePolygon(p); inv != nil {
				return &ErrInvalidGeometry{Reason: fmt.Sprintf("member %d: %s", i, inv.Reason)}
			}
		}
		return nil
	default:
		return &ErrInvalidGeometry{Reason: fmt.Sprintf("unsupported geometry type %s", s.Geom.GeoJSONType())}
	}
}

func validatePolygon(p orb.Polygon) *ErrInvalidGeometry {
	if len(p) == 0 {
		return &ErrInvalidGeometry{Reason: "polygon has no rings"}
	}
	for i, ring := range p {
		if len(ring) < 4 {
			return &ErrInvalidGeometry{Reason: fmt.Sprintf("ring %d has %d points, need at least 4", i, len(ring))}
		}
		if !ring.Closed() {
			return &ErrInvalidGeometry{Reason: fmt.Sprintf("ring %d is not closed", i)}
		}
		for _, pt := range ring {
			if !finite(pt[0]) || !finite(pt[1]) {
				return &ErrInvalidGeometry{Reason: fmt.Sprintf("ring %d has non-finite coordinate", i)}
			}
		}
	}
	if signedArea(p[0]) == 0 {
		return &ErrInvalidGeometry{Reason: "exterior ring encloses zero area"}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Area returns the planar area of the shape, holes subtracted. Invalid or
// non-area shapes report zero.
func (s Shape) Area() float64 {
	switch g := s.Geom.(type) {
	case orb.Polygon:
		return polygonArea(g)
	case orb.MultiPolygon:
		var sum float64
		for _, p := range g {
			sum += polygonArea(p)
		}
		return sum
	default:
		return 0
	}
}

func polygonArea(p orb.Polygon) float64 {
	if len(p) == 0 {
		return 0
	}
	area := math.Abs(signedArea(p[0]))
	for _, hole := range p[1:] {
		area -= math.Abs(signedArea(hole))
	}
	if area < 0 {
		return 0
	}
	return area
}

// signedArea is the shoelace sum of a ring; positive for counterclockwise
// winding. Callers needing magnitude take the absolute value.
func signedArea(ring orb.Ring) float64 {
	var sum float64
	for i := 0; i < len(ring)-1; i++ {
		sum += ring[i][0]*ring[i+1][1] - ring[i+1][0]*ring[i][1]
	}
	return sum / 2
}

// shapeJSON is the persisted encoding of a Shape: GeoJSON geometry plus the
// reference system it is expressed in.
type shapeJSON struct {
	SRID     SRID              `json:"srid"`
	Geometry *geojson.Geometry `json:"geometry"`
}

// MarshalJSON encodes the shape as GeoJSON tagged with its SRID.
func (s Shape) MarshalJSON() ([]byte, error) {
	enc := shapeJSON{SRID: s.SRID}
	if s.Geom != nil {
		enc.Geometry = geojson.NewGeometry(s.Geom)
	}
	return json.Marshal(enc)
}

// UnmarshalJSON decodes a shape from its GeoJSON encoding, normalizing
// bounds to polygons the same way NewShape does.
func (s *Shape) UnmarshalJSON(data []byte) error {
	var dec shapeJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return fmt.Errorf("decode shape: %w", err)
	}
	s.SRID = dec.SRID
	s.Geom = nil
	if dec.Geometry != nil {
		g := dec.Geometry.Geometry()
		if b, ok := g.(orb.Bound); ok {
			g = boundPolygon(b)
		}
		s.Geom = g
	}
	return nil
}
