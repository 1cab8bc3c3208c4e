package graph

import (
	"slices"

	"github.com/hupe1980/geoset/core"
)

// side interns one vertex class. Released LocalIDs go on a freelist and are
// handed out again before new ones are minted, keeping the id space dense.
type side struct {
	byName map[string]core.LocalID
	names  map[core.LocalID]string
	free   []core.LocalID
	next   core.LocalID
}

func newSide() *side {
	return &side{
		byName: make(map[string]core.LocalID),
		names:  make(map[core.LocalID]string),
	}
}

func (s *side) lookup(name string) (core.LocalID, bool) {
	id, ok := s.byName[name]
	return id, ok
}

func (s *side) add(name string) (core.LocalID, error) {
	var id core.LocalID
	if n := len(s.free); n > 0 {
		id = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		if s.next == core.MaxLocalID {
			return 0, core.ErrIDSpaceExhausted
		}
		id = s.next
		s.next++
	}
	s.byName[name] = id
	s.names[id] = name
	return id, nil
}

func (s *side) remove(name string) (core.LocalID, bool) {
	id, ok := s.byName[name]
	if !ok {
		return 0, false
	}
	delete(s.byName, name)
	delete(s.names, id)
	s.free = append(s.free, id)
	return id, true
}

func (s *side) len() int {
	return len(s.byName)
}

func (s *side) sortedNames() []string {
	out := make([]string, 0, len(s.byName))
	for name := range s.byName {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Bipartite is the containment graph: an edge (image, polygon) records that
// the image footprint fully contains the polygon boundary. Adjacency is kept
// on both sides so queries in either direction avoid scans; the two maps
// mirror each other exactly.
type Bipartite struct {
	images   *side
	polygons *side

	byImage   map[core.LocalID]*core.Bitmap
	byPolygon map[core.LocalID]*core.Bitmap

	edges uint64
}

// New creates an empty bipartite containment graph.
func New() *Bipartite {
	return &Bipartite{
		images:    newSide(),
		polygons:  newSide(),
		byImage:   make(map[core.LocalID]*core.Bitmap),
		byPolygon: make(map[core.LocalID]*core.Bitmap),
	}
}

// AddImage adds an image vertex. Adding a name that is already present
// returns ErrDuplicateVertex.
func (g *Bipartite) AddImage(name string) error {
	if _, ok := g.images.lookup(name); ok {
		return &ErrDuplicateVertex{Kind: KindImage, Name: name}
	}
	id, err := g.images.add(name)
	if err != nil {
		return err
	}
	g.byImage[id] = core.NewBitmap()
	return nil
}

// AddPolygon adds a polygon vertex. Adding an id that is already present
// returns ErrDuplicateVertex.
func (g *Bipartite) AddPolygon(id string) error {
	if _, ok := g.polygons.lookup(id); ok {
		return &ErrDuplicateVertex{Kind: KindPolygon, Name: id}
	}
	local, err := g.polygons.add(id)
	if err != nil {
		return err
	}
	g.byPolygon[local] = core.NewBitmap()
	return nil
}

// EnsureImage adds an image vertex if absent and reports whether it was
// created.
func (g *Bipartite) EnsureImage(name string) (bool, error) {
	if _, ok := g.images.lookup(name); ok {
		return false, nil
	}
	if err := g.AddImage(name); err != nil {
		return false, err
	}
	return true, nil
}

// EnsurePolygon adds a polygon vertex if absent and reports whether it was
// created.
func (g *Bipartite) EnsurePolygon(id string) (bool, error) {
	if _, ok := g.polygons.lookup(id); ok {
		return false, nil
	}
	if err := g.AddPolygon(id); err != nil {
		return false, err
	}
	return true, nil
}

// HasImage reports whether an image vertex exists.
func (g *Bipartite) HasImage(name string) bool {
	_, ok := g.images.lookup(name)
	return ok
}

// HasPolygon reports whether a polygon vertex exists.
func (g *Bipartite) HasPolygon(id string) bool {
	_, ok := g.polygons.lookup(id)
	return ok
}

// AddEdge records that image contains polygon. Both vertices must exist.
// Adding an edge twice is a no-op.
func (g *Bipartite) AddEdge(image, polygon string) error {
	i, ok := g.images.lookup(image)
	if !ok {
		return &ErrUnknownVertex{Kind: KindImage, Name: image}
	}
	p, ok := g.polygons.lookup(polygon)
	if !ok {
		return &ErrUnknownVertex{Kind: KindPolygon, Name: polygon}
	}
	if g.byImage[i].Contains(p) {
		return nil
	}
	g.byImage[i].Add(p)
	g.byPolygon[p].Add(i)
	g.edges++
	return nil
}

// RemoveEdge removes the edge between image and polygon if present. Both
// vertices must exist; removing an absent edge is a no-op.
func (g *Bipartite) RemoveEdge(image, polygon string) error {
	i, ok := g.images.lookup(image)
	if !ok {
		return &ErrUnknownVertex{Kind: KindImage, Name: image}
	}
	p, ok := g.polygons.lookup(polygon)
	if !ok {
		return &ErrUnknownVertex{Kind: KindPolygon, Name: polygon}
	}
	if !g.byImage[i].Contains(p) {
		return nil
	}
	g.byImage[i].Remove(p)
	g.byPolygon[p].Remove(i)
	g.edges--
	return nil
}

// HasEdge reports whether the containment edge exists. Missing vertices
// simply report false.
func (g *Bipartite) HasEdge(image, polygon string) bool {
	i, ok := g.images.lookup(image)
	if !ok {
		return false
	}
	p, ok := g.polygons.lookup(polygon)
	if !ok {
		return false
	}
	return g.byImage[i].Contains(p)
}

// RemoveImage deletes an image vertex and all its edges, returning the
// sorted ids of polygons that lost a containing image.
func (g *Bipartite) RemoveImage(name string) ([]string, error) {
	id, ok := g.images.lookup(name)
	if !ok {
		return nil, &ErrUnknownVertex{Kind: KindImage, Name: name}
	}
	affected := g.detachImage(id)
	delete(g.byImage, id)
	g.images.remove(name)
	return affected, nil
}

// RemovePolygon deletes a polygon vertex and all its edges.
func (g *Bipartite) RemovePolygon(id string) error {
	local, ok := g.polygons.lookup(id)
	if !ok {
		return &ErrUnknownVertex{Kind: KindPolygon, Name: id}
	}
	bm := g.byPolygon[local]
	for i := range bm.Iterator() {
		g.byImage[i].Remove(local)
	}
	g.edges -= bm.Cardinality()
	delete(g.byPolygon, local)
	g.polygons.remove(id)
	return nil
}

// ClearImage drops every edge of an image while keeping the vertex,
// returning the sorted ids of polygons that lost a containing image. Used
// when an image footprint changes and containment must be recomputed.
func (g *Bipartite) ClearImage(name string) ([]string, error) {
	id, ok := g.images.lookup(name)
	if !ok {
		return nil, &ErrUnknownVertex{Kind: KindImage, Name: name}
	}
	return g.detachImage(id), nil
}

// ClearPolygon drops every edge of a polygon while keeping the vertex,
// returning the sorted names of images that lost a contained polygon.
func (g *Bipartite) ClearPolygon(id string) ([]string, error) {
	local, ok := g.polygons.lookup(id)
	if !ok {
		return nil, &ErrUnknownVertex{Kind: KindPolygon, Name: id}
	}
	bm := g.byPolygon[local]
	affected := g.imageNames(bm)
	for i := range bm.Iterator() {
		g.byImage[i].Remove(local)
	}
	g.edges -= bm.Cardinality()
	bm.Clear()
	return affected, nil
}

func (g *Bipartite) detachImage(id core.LocalID) []string {
	bm := g.byImage[id]
	affected := g.polygonNames(bm)
	for p := range bm.Iterator() {
		g.byPolygon[p].Remove(id)
	}
	g.edges -= bm.Cardinality()
	bm.Clear()
	return affected
}

// ImagesContaining returns the sorted names of all images whose footprint
// contains the polygon.
func (g *Bipartite) ImagesContaining(polygon string) ([]string, error) {
	p, ok := g.polygons.lookup(polygon)
	if !ok {
		return nil, &ErrUnknownVertex{Kind: KindPolygon, Name: polygon}
	}
	return g.imageNames(g.byPolygon[p]), nil
}

// PolygonsContainedIn returns the sorted ids of all polygons fully contained
// in the image footprint.
func (g *Bipartite) PolygonsContainedIn(image string) ([]string, error) {
	i, ok := g.images.lookup(image)
	if !ok {
		return nil, &ErrUnknownVertex{Kind: KindImage, Name: image}
	}
	return g.polygonNames(g.byImage[i]), nil
}

// ContainmentCount returns the number of images containing the polygon.
func (g *Bipartite) ContainmentCount(polygon string) (int, error) {
	p, ok := g.polygons.lookup(polygon)
	if !ok {
		return 0, &ErrUnknownVertex{Kind: KindPolygon, Name: polygon}
	}
	return int(g.byPolygon[p].Cardinality()), nil
}

// Images returns the sorted names of all image vertices.
func (g *Bipartite) Images() []string {
	return g.images.sortedNames()
}

// Polygons returns the sorted ids of all polygon vertices.
func (g *Bipartite) Polygons() []string {
	return g.polygons.sortedNames()
}

// NumImages returns the number of image vertices.
func (g *Bipartite) NumImages() int {
	return g.images.len()
}

// NumPolygons returns the number of polygon vertices.
func (g *Bipartite) NumPolygons() int {
	return g.polygons.len()
}

// NumEdges returns the number of containment edges.
func (g *Bipartite) NumEdges() int {
	return int(g.edges)
}

// Stats summarizes graph size.
type Stats struct {
	Images   int
	Polygons int
	Edges    int
}

// Stats returns current vertex and edge counts.
func (g *Bipartite) Stats() Stats {
	return Stats{
		Images:   g.images.len(),
		Polygons: g.polygons.len(),
		Edges:    int(g.edges),
	}
}

func (g *Bipartite) imageNames(bm *core.Bitmap) []string {
	out := make([]string, 0, bm.Cardinality())
	for id := range bm.Iterator() {
		out = append(out, g.images.names[id])
	}
	slices.Sort(out)
	return out
}

func (g *Bipartite) polygonNames(bm *core.Bitmap) []string {
	out := make([]string, 0, bm.Cardinality())
	for id := range bm.Iterator() {
		out = append(out, g.polygons.names[id])
	}
	slices.Sort(out)
	return out
}
