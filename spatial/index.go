// Package spatial maintains an in-memory R-tree over shape bounding boxes.
// It answers the two pruning queries containment recomputation needs: which
// boxes could cover a given box, and which boxes could lie within one. Box
// overlap is a necessary condition only; callers always re-check candidates
// with the exact geometry predicate.
package spatial

import (
	"slices"

	"github.com/paulmach/orb"
	"github.com/tidwall/rtree"
)

// Index is an R-tree keyed by entry name. It is not safe for concurrent
// use; the owning engine serializes access under its dataset guard.
type Index struct {
	tr rtree.RTreeG[string]
}

// New creates an empty index.
func New() *Index {
	return &Index{}
}

// Insert adds an entry under its bounding box. Callers must keep the box
// they inserted to remove the entry later.
func (x *Index) Insert(name string, b orb.Bound) {
	x.tr.Insert(boxMin(b), boxMax(b), name)
}

// Remove deletes an entry previously inserted under exactly this box.
func (x *Index) Remove(name string, b orb.Bound) {
	x.tr.Delete(boxMin(b), boxMax(b), name)
}

// Len returns the number of entries.
func (x *Index) Len() int {
	return x.tr.Len()
}

// Covering returns the sorted names of entries whose box covers b. These are
// the candidate containers of a shape with bound b.
func (x *Index) Covering(b orb.Bound) []string {
	var out []string
	x.tr.Search(boxMin(b), boxMax(b), func(min, max [2]float64, name string) bool {
		if min[0] <= b.Min[0] && min[1] <= b.Min[1] && max[0] >= b.Max[0] && max[1] >= b.Max[1] {
			out = append(out, name)
		}
		return true
	})
	slices.Sort(out)
	return out
}

// Within returns the sorted names of entries whose box lies inside b. These
// are the candidate contents of a shape with bound b.
func (x *Index) Within(b orb.Bound) []string {
	var out []string
	x.tr.Search(boxMin(b), boxMax(b), func(min, max [2]float64, name string) bool {
		if min[0] >= b.Min[0] && min[1] >= b.Min[1] && max[0] <= b.Max[0] && max[1] <= b.Max[1] {
			out = append(out, name)
		}
		return true
	})
	slices.Sort(out)
	return out
}

func boxMin(b orb.Bound) [2]float64 {
	return [2]float64{b.Min[0], b.Min[1]}
}

func boxMax(b orb.Bound) [2]float64 {
	return [2]float64{b.Max[0], b.Max[1]}
}
