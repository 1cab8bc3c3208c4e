package geometry

import (
	"github.com/paulmach/orb"
)

// Contains reports whether outer fully contains inner under closed
// semantics: inner touching outer's boundary still counts as contained.
// Both shapes must be valid area geometries (see Shape.Validate) in the
// same reference system.
//
// A MultiPolygon outer contains inner when one of its member polygons does;
// a MultiPolygon inner is contained when every member is.
func Contains(outer, inner Shape) (bool, error) {
	if outer.SRID != inner.SRID {
		return false, &ErrCRSMismatch{Want: outer.SRID, Got: inner.SRID}
	}

	outerPolys, err := areaPolygons(outer)
	if err != nil {
		return false, err
	}
	innerPolys, err := areaPolygons(inner)
	if err != nil {
		return false, err
	}

	if !boundCovers(outer.Bound(), inner.Bound()) {
		return false, nil
	}

	for _, p := range innerPolys {
		if !coveredByAny(outerPolys, p) {
			return false, nil
		}
	}
	return true, nil
}

func areaPolygons(s Shape) ([]orb.Polygon, error) {
	switch g := s.Geom.(type) {
	case orb.Polygon:
		return []orb.Polygon{g}, nil
	case orb.MultiPolygon:
		return g, nil
	default:
		if s.Geom == nil {
			return nil, &ErrInvalidGeometry{Reason: "empty shape"}
		}
		return nil, &ErrInvalidGeometry{Reason: "containment requires an area geometry, got " + s.Geom.GeoJSONType()}
	}
}

func coveredByAny(outers []orb.Polygon, p orb.Polygon) bool {
	pb := p.Bound()
	for _, o := range outers {
		if !boundCovers(o.Bound(), pb) {
			continue
		}
		if polygonCovers(o, p) {
			return true
		}
	}
	return false
}

// polygonCovers decides closed containment of p by o through a sequence of
// exact tests on p's exterior ring: every vertex and every edge midpoint
// lies inside or on o, no edge of p properly crosses an edge of o, no hole
// of o pokes into p's interior, and a representative interior point of p
// lands inside o. Holes of p never matter: if the filled polygon is covered,
// the holed one is too.
func polygonCovers(o, p orb.Polygon) bool {
	ext := p[0]

	for _, v := range ext {
		if pointInPolygon(o, v) == locOutside {
			return false
		}
	}
	for i := 0; i < len(ext)-1; i++ {
		mid := orb.Point{(ext[i][0] + ext[i+1][0]) / 2, (ext[i][1] + ext[i+1][1]) / 2}
		if pointInPolygon(o, mid) == locOutside {
			return false
		}
	}

	for _, ring := range o {
		if ringsProperlyCross(ext, ring) {
			return false
		}
	}

	for _, hole := range o[1:] {
		if !boundsOverlap(hole.Bound(), p.Bound()) {
			continue
		}
		for _, v := range hole {
			if pointInPolygon(p, v) == locInside {
				return false
			}
		}
	}

	if c, ok := interiorPoint(p); ok {
		if pointInPolygon(o, c) == locOutside {
			return false
		}
	}
	return true
}

type loc int

const (
	locOutside loc = iota
	locOn
	locInside
)

// pointInPolygon locates pt relative to a polygon with holes. A point
// strictly inside a hole is outside the polygon; a point on any ring is on
// the boundary.
func pointInPolygon(p orb.Polygon, pt orb.Point) loc {
	switch ringLocation(p[0], pt) {
	case locOutside:
		return locOutside
	case locOn:
		return locOn
	}
	for _, hole := range p[1:] {
		switch ringLocation(hole, pt) {
		case locInside:
			return locOutside
		case locOn:
			return locOn
		}
	}
	return locInside
}

// ringLocation classifies pt against a closed ring by crossing count,
// reporting boundary hits exactly rather than folding them into a side.
func ringLocation(ring orb.Ring, pt orb.Point) loc {
	inside := false
	for i := 0; i < len(ring)-1; i++ {
		a, b := ring[i], ring[i+1]
		if onSegment(a, b, pt) {
			return locOn
		}
		if (a[1] > pt[1]) != (b[1] > pt[1]) {
			x := a[0] + (pt[1]-a[1])*(b[0]-a[0])/(b[1]-a[1])
			if pt[0] < x {
				inside = !inside
			}
		}
	}
	if inside {
		return locInside
	}
	return locOutside
}

// ringsProperlyCross reports whether any edge of a strictly crosses any edge
// of b. Touching endpoints and collinear overlaps are not proper crossings;
// closed containment allows them.
func ringsProperlyCross(a, b orb.Ring) bool {
	for i := 0; i < len(a)-1; i++ {
		for j := 0; j < len(b)-1; j++ {
			if properCross(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

func properCross(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

// cross is the z component of (a-o) x (b-o): positive when o,a,b turn
// counterclockwise, zero when collinear.
func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func onSegment(a, b, p orb.Point) bool {
	if cross(a, b, p) != 0 {
		return false
	}
	return min(a[0], b[0]) <= p[0] && p[0] <= max(a[0], b[0]) &&
		min(a[1], b[1]) <= p[1] && p[1] <= max(a[1], b[1])
}

// interiorPoint finds a point strictly inside the polygon by probing
// centroids of consecutive vertex triples. Degenerate polygons may yield no
// interior point, in which case the caller skips the interior test.
func interiorPoint(p orb.Polygon) (orb.Point, bool) {
	ring := p[0]
	for i := 1; i < len(ring)-1; i++ {
		c := orb.Point{
			(ring[i-1][0] + ring[i][0] + ring[i+1][0]) / 3,
			(ring[i-1][1] + ring[i][1] + ring[i+1][1]) / 3,
		}
		if pointInPolygon(p, c) == locInside {
			return c, true
		}
	}
	return orb.Point{}, false
}

func boundCovers(a, b orb.Bound) bool {
	return a.Min[0] <= b.Min[0] && a.Min[1] <= b.Min[1] &&
		a.Max[0] >= b.Max[0] && a.Max[1] >= b.Max[1]
}

func boundsOverlap(a, b orb.Bound) bool {
	return a.Min[0] <= b.Max[0] && b.Min[0] <= a.Max[0] &&
		a.Min[1] <= b.Max[1] && b.Min[1] <= a.Max[1]
}
