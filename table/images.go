package table

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/hupe1980/geoset/attr"
	"github.com/hupe1980/geoset/geometry"
)

// ErrEmptyKey is returned when a row is upserted without a name or id.
var ErrEmptyKey = errors.New("table: empty row key")

// Images is the image metadata store, keyed by image name.
// It is safe for concurrent use.
type Images struct {
	mu     sync.RWMutex
	schema attr.Schema
	rows   map[string]*ImageRecord
}

// NewImages creates an empty image store. A non-nil schema is enforced on
// every upsert.
func NewImages(schema attr.Schema) *Images {
	return &Images{
		schema: schema,
		rows:   make(map[string]*ImageRecord),
	}
}

// Upsert inserts or replaces the row for rec.Name and reports whether a new
// row was created. The record is deep-copied; an empty status defaults to
// StatusPending.
func (s *Images) Upsert(rec ImageRecord) (bool, error) {
	if rec.Name == "" {
		return false, ErrEmptyKey
	}
	if s.schema != nil {
		if err := s.schema.Validate(rec.Attrs); err != nil {
			return false, fmt.Errorf("image %q: %w", rec.Name, err)
		}
	}

	row := rec.Clone()
	if row.Status == "" {
		row.Status = StatusPending
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.rows[row.Name]
	s.rows[row.Name] = &row
	return !exists, nil
}

// Get returns a copy of the row, if present.
func (s *Images) Get(name string) (ImageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[name]
	if !ok {
		return ImageRecord{}, false
	}
	return row.Clone(), true
}

// Footprint returns the footprint of a row, if present. The shape is
// shared, not copied; callers must treat it as read-only.
func (s *Images) Footprint(name string) (geometry.Shape, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[name]
	if !ok {
		return geometry.Shape{}, false
	}
	return row.Footprint, true
}

// Has reports whether a row exists.
func (s *Images) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[name]
	return ok
}

// Delete removes the row and reports whether it existed.
func (s *Images) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.rows[name]
	delete(s.rows, name)
	return ok
}

// SetStatus updates the processing status of a row, reporting whether the
// row existed.
func (s *Images) SetStatus(name string, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[name]
	if !ok {
		return false
	}
	row.Status = status
	return true
}

// Len returns the number of rows.
func (s *Images) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Names returns all row keys in sorted order.
func (s *Images) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedNamesLocked()
}

func (s *Images) sortedNamesLocked() []string {
	names := make([]string, 0, len(s.rows))
	for name := range s.rows {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Range returns a snapshot iterator over copies of all rows in sorted name
// order. The snapshot is taken when Range is called; later mutations are not
// observed.
func (s *Images) Range() iter.Seq[ImageRecord] {
	s.mu.RLock()
	out := make([]ImageRecord, 0, len(s.rows))
	for _, name := range s.sortedNamesLocked() {
		out = append(out, s.rows[name].Clone())
	}
	s.mu.RUnlock()

	return func(yield func(ImageRecord) bool) {
		for _, rec := range out {
			if !yield(rec) {
				return
			}
		}
	}
}

// Shapes returns the footprints of all rows in sorted name order. The
// shapes are shared, not copied; this is the containment recomputation hot
// path and callers must treat them as read-only.
func (s *Images) Shapes() []NamedShape {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]NamedShape, 0, len(s.rows))
	for _, name := range s.sortedNamesLocked() {
		out = append(out, NamedShape{Name: name, Shape: s.rows[name].Footprint})
	}
	return out
}

// AppendFrom bulk-upserts records from src, returning how many rows were
// added and how many replaced. On error the rows already consumed remain
// applied; callers needing all-or-nothing semantics validate up front.
func (s *Images) AppendFrom(src iter.Seq[ImageRecord]) (added, updated int, err error) {
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
