package table

import (
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/hupe1980/geoset/attr"
	"github.com/hupe1980/geoset/core"
	"github.com/hupe1980/geoset/geometry"
)

// Polygons is the polygon metadata store, keyed by polygon id. Rows are
// interned to LocalIDs so the class inverted index can use Roaring bitmaps.
// It is safe for concurrent use.
type Polygons struct {
	mu     sync.RWMutex
	schema attr.Schema
	rows   map[string]*PolygonRecord

	locals map[string]core.LocalID
	keys   map[core.LocalID]string
	free   []core.LocalID
	next   core.LocalID

	byClass map[string]*core.Bitmap
}

// NewPolygons creates an empty polygon store. A non-nil schema is enforced
// on every upsert.
func NewPolygons(schema attr.Schema) *Polygons {
	return &Polygons{
		schema:  schema,
		rows:    make(map[string]*PolygonRecord),
		locals:  make(map[string]core.LocalID),
		keys:    make(map[core.LocalID]string),
		byClass: make(map[string]*core.Bitmap),
	}
}

// Upsert inserts or replaces the row for rec.ID and reports whether a new
// row was created. The record is deep-copied. ImgCount is derived state: a
// new row starts at zero and an update keeps the stored value, regardless of
// what the input carries.
func (s *Polygons) Upsert(rec PolygonRecord) (bool, error) {
	if rec.ID == "" {
		return false, ErrEmptyKey
	}
	if s.schema != nil {
		if err := s.schema.Validate(rec.Attrs); err != nil {
			return false, fmt.Errorf("polygon %q: %w", rec.ID, err)
		}
	}

	row := rec.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.rows[row.ID]
	if exists {
		row.ImgCount = prev.ImgCount
		s.dropClassRefsLocked(s.locals[row.ID], prev.Classes)
	} else {
		row.ImgCount = 0
		if _, err := s.internLocked(row.ID); err != nil {
			return false, err
		}
	}
	s.addClassRefsLocked(s.locals[row.ID], row.Classes)
	s.rows[row.ID] = &row
	return !exists, nil
}

func (s *Polygons) internLocked(id string) (core.LocalID, error) {
	var local core.LocalID
	if n := len(s.free); n > 0 {
		local = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		if s.next == core.MaxLocalID {
			return 0, core.ErrIDSpaceExhausted
		}
		local = s.next
		s.next++
	}
	s.locals[id] = local
	s.keys[local] = id
	return local, nil
}

func (s *Polygons) addClassRefsLocked(local core.LocalID, classes []string) {
	for _, class := range classes {
		bm, ok := s.byClass[class]
		if !ok {
			bm = core.NewBitmap()
			s.byClass[class] = bm
		}
		bm.Add(local)
	}
}

func (s *Polygons) dropClassRefsLocked(local core.LocalID, classes []string) {
	for _, class := range classes {
		bm, ok := s.byClass[class]
		if !ok {
			continue
		}
		bm.Remove(local)
		if bm.IsEmpty() {
			delete(s.byClass, class)
		}
	}
}

// Get returns a copy of the row, if present.
func (s *Polygons) Get(id string) (PolygonRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok {
		return PolygonRecord{}, false
	}
	return row.Clone(), true
}

// Boundary returns the boundary of a row, if present. The shape is shared,
// not copied; callers must treat it as read-only.
func (s *Polygons) Boundary(id string) (geometry.Shape, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok {
		return geometry.Shape{}, false
	}
	return row.Boundary, true
}

// Has reports whether a row exists.
func (s *Polygons) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[id]
	return ok
}

// Delete removes the row and reports whether it existed.
func (s *Polygons) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return false
	}
	local := s.locals[id]
	s.dropClassRefsLocked(local, row.Classes)
	delete(s.locals, id)
	delete(s.keys, local)
	s.free = append(s.free, local)
	delete(s.rows, id)
	return true
}

// SetImgCount overwrites the derived containment count of a row, reporting
// whether the row existed. Only the engine's graph maintenance calls this.
func (s *Polygons) SetImgCount(id string, n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return false
	}
	row.ImgCount = n
	return true
}

// AdjustImgCount adds delta to the derived containment count of a row,
// reporting whether the row existed.
func (s *Polygons) AdjustImgCount(id string, delta int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return false
	}
	row.ImgCount += delta
	return true
}

// ImgCount returns the derived containment count of a row.
func (s *Polygons) ImgCount(id string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok {
		return 0, false
	}
	return row.ImgCount, true
}

// Len returns the number of rows.
func (s *Polygons) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// IDs returns all row keys in sorted order.
func (s *Polygons) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedIDsLocked()
}

func (s *Polygons) sortedIDsLocked() []string {
	ids := make([]string, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Range returns a snapshot iterator over copies of all rows in sorted id
// order. The snapshot is taken when Range is called; later mutations are not
// observed.
func (s *Polygons) Range() iter.Seq[PolygonRecord] {
	s.mu.RLock()
	out := make([]PolygonRecord, 0, len(s.rows))
	for _, id := range s.sortedIDsLocked() {
		out = append(out, s.rows[id].Clone())
	}
	s.mu.RUnlock()

	return func(yield func(PolygonRecord) bool) {
		for _, rec := range out {
			if !yield(rec) {
				return
			}
		}
	}
}

// Shapes returns the boundaries of all rows in sorted id order. The shapes
// are shared, not copied; this is the containment recomputation hot path and
// callers must treat them as read-only.
func (s *Polygons) Shapes() []NamedShape {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]NamedShape, 0, len(s.rows))
	for _, id := range s.sortedIDsLocked() {
		out = append(out, NamedShape{Name: id, Shape: s.rows[id].Boundary})
	}
	return out
}

// Classes returns all segmentation classes with at least one row, sorted.
func (s *Polygons) Classes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.byClass))
	for class := range s.byClass {
		out = append(out, class)
	}
	slices.Sort(out)
	return out
}

// IDsByClass returns the sorted ids of rows labeled with the class.
func (s *Polygons) IDsByClass(class string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bm, ok := s.byClass[class]
	if !ok {
		return nil
	}
	out := make([]string, 0, bm.Cardinality())
	for local := range bm.Iterator() {
		out = append(out, s.keys[local])
	}
	slices.Sort(out)
	return out
}

// ReplaceClasses rewrites the class labels of every row carrying at least
// one of the source classes: sources are removed and target appended if not
// already present. It returns the sorted ids of rewritten rows.
func (s *Polygons) ReplaceClasses(sources []string, target string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	affected := s.unionClassLocked(sources)
	if affected.IsEmpty() {
		return nil
	}

	drop := make(map[string]bool, len(sources))
	for _, class := range sources {
		drop[class] = true
	}

	out := make([]string, 0, affected.Cardinality())
	for local := range affected.Iterator() {
		id := s.keys[local]
		row := s.rows[id]
		s.dropClassRefsLocked(local, row.Classes)

		kept := row.Classes[:0]
		hasTarget := false
		for _, class := range row.Classes {
			if drop[class] {
				continue
			}
			if class == target {
				hasTarget = true
			}
			kept = append(kept, class)
		}
		if !hasTarget {
			kept = append(kept, target)
		}
		row.Classes = kept

		s.addClassRefsLocked(local, row.Classes)
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// RemoveClasses strips the given class labels from every row carrying them.
// It returns the sorted ids of rewritten rows and, separately, the sorted
// ids of rows left with no classes at all; the caller decides their fate.
func (s *Polygons) RemoveClasses(classes []string) (changed, emptied []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	affected := s.unionClassLocked(classes)
	if affected.IsEmpty() {
		return nil, nil
	}

	drop := make(map[string]bool, len(classes))
	for _, class := range classes {
		drop[class] = true
	}

	for local := range affected.Iterator() {
		id := s.keys[local]
		row := s.rows[id]
		s.dropClassRefsLocked(local, row.Classes)

		kept := row.Classes[:0]
		for _, class := range row.Classes {
			if !drop[class] {
				kept = append(kept, class)
			}
		}
		row.Classes = kept

		s.addClassRefsLocked(local, row.Classes)
		changed = append(changed, id)
		if len(row.Classes) == 0 {
			emptied = append(emptied, id)
		}
	}
	slices.Sort(changed)
	slices.Sort(emptied)
	return changed, emptied
}

func (s *Polygons) unionClassLocked(classes []string) *core.Bitmap {
	union := core.NewBitmap()
	for _, class := range classes {
		if bm, ok := s.byClass[class]; ok {
			union.Or(bm)
		}
	}
	return union
}

// AppendFrom bulk-upserts records from src, returning how many rows were
// added and how many replaced. On error the rows already consumed remain
// applied; callers needing all-or-nothing semantics validate up front.
func (s *Polygons) AppendFrom(src iter.Seq[PolygonRecord]) (added, updated int, err error) {
	for rec := range src {
		created, err := s.Upsert(rec)
		if err != nil {
			return added, updated, err
		}
		if created {
			added++
		} else {
			updated++
		}
	}
	return added, updated, nil
}
