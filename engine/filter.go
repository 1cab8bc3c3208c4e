package engine

import (
	"fmt"
	"slices"

	"github.com/hupe1980/geoset/attr"
	"github.com/hupe1980/geoset/table"
)

// FilterImages returns copies of the image rows whose attribute documents
// match the filter set, in sorted name order. A nil or empty filter set
// matches every row.
func (c *Coordinator) FilterImages(fs *attr.FilterSet) []table.ImageRecord {
	c.mu.RLock()
	rows := c.images.Range()
	c.mu.RUnlock()

	var out []table.ImageRecord
	for rec := range rows {
		if fs == nil || fs.Matches(rec.Attrs) {
			out = append(out, rec)
		}
	}
	return out
}

// FilterPolygons returns copies of the polygon rows whose attribute
// documents match the filter set, in sorted id order. A nil or empty filter
// set matches every row.
func (c *Coordinator) FilterPolygons(fs *attr.FilterSet) []table.PolygonRecord {
	c.mu.RLock()
	rows := c.polygons.Range()
	c.mu.RUnlock()

	var out []table.PolygonRecord
	for rec := range rows {
		if fs == nil || fs.Matches(rec.Attrs) {
			out = append(out, rec)
		}
	}
	return out
}

// SaveFilter stores a named filter set. Saved filters persist with the next
// snapshot; they are not journaled. An existing filter of the same name is
// replaced.
func (c *Coordinator) SaveFilter(name string, fs *attr.FilterSet) error {
	if name == "" {
		return fmt.Errorf("engine: save filter: empty name")
	}
	if fs == nil {
		return fmt.Errorf("engine: save filter %q: nil filter set", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.filters[name] = attr.NewFilterSet(slices.Clone(fs.Filters)...)
	return nil
}

// SavedFilter returns a copy of a stored filter set.
func (c *Coordinator) SavedFilter(name string) (*attr.FilterSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fs, ok := c.filters[name]
	if !ok {
		return nil, false
	}
	return attr.NewFilterSet(slices.Clone(fs.Filters)...), true
}

// SavedFilters returns the names of all stored filter sets, sorted.
func (c *Coordinator) SavedFilters() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.filters))
	for name := range c.filters {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// DeleteFilter removes a stored filter set, reporting whether it existed.
func (c *Coordinator) DeleteFilter(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.filters[name]
	delete(c.filters, name)
	return ok
}
