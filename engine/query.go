package engine

import (
	"fmt"
	"iter"

	"github.com/hupe1980/geoset/geometry"
	"github.com/hupe1980/geoset/table"
)

// Stats summarizes the dataset.
type Stats struct {
	Images   int
	Polygons int
	Edges    int
	Classes  int
	Filters  int
	SRID     geometry.SRID
}

// HasImage reports whether an image is registered.
func (c *Coordinator) HasImage(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.images.Has(name)
}

// HasPolygon reports whether a polygon is registered.
func (c *Coordinator) HasPolygon(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.polygons.Has(id)
}

// Image returns a copy of an image row.
func (c *Coordinator) Image(name string) (table.ImageRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.images.Get(name)
	if !ok {
		return table.ImageRecord{}, fmt.Errorf("engine: image %q: %w", name, ErrNotFound)
	}
	return rec, nil
}

// Polygon returns a copy of a polygon row.
func (c *Coordinator) Polygon(id string) (table.PolygonRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.polygons.Get(id)
	if !ok {
		return table.PolygonRecord{}, fmt.Errorf("engine: polygon %q: %w", id, ErrNotFound)
	}
	return rec, nil
}

// ImagesContaining returns the sorted names of images whose footprint
// contains the polygon.
func (c *Coordinator) ImagesContaining(id string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names, err := c.graph.ImagesContaining(id)
	if err != nil {
		return nil, fmt.Errorf("engine: polygon %q: %w", id, ErrNotFound)
	}
	return names, nil
}

// PolygonsContainedIn returns the sorted ids of polygons contained in the
// image footprint.
func (c *Coordinator) PolygonsContainedIn(name string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids, err := c.graph.PolygonsContainedIn(name)
	if err != nil {
		return nil, fmt.Errorf("engine: image %q: %w", name, ErrNotFound)
	}
	return ids, nil
}

// ImageCount returns the stored containment count of a polygon.
func (c *Coordinator) ImageCount(id string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n, ok := c.polygons.ImgCount(id)
	if !ok {
		return 0, fmt.Errorf("engine: polygon %q: %w", id, ErrNotFound)
	}
	return n, nil
}

// Images returns a snapshot iterator over copies of all image rows in
// sorted name order.
func (c *Coordinator) Images() iter.Seq[table.ImageRecord] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.images.Range()
}

// Polygons returns a snapshot iterator over copies of all polygon rows in
// sorted id order.
func (c *Coordinator) Polygons() iter.Seq[table.PolygonRecord] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.polygons.Range()
}

// Classes returns all segmentation classes with at least one polygon,
// sorted.
func (c *Coordinator) Classes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.polygons.Classes()
}

// PolygonsInClass returns the sorted ids of polygons labeled with the
// class.
func (c *Coordinator) PolygonsInClass(class string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.polygons.IDsByClass(class)
}

// Stats returns dataset counters.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	gs := c.graph.Stats()
	return Stats{
		Images:   gs.Images,
		Polygons: gs.Polygons,
		Edges:    gs.Edges,
		Classes:  len(c.polygons.Classes()),
		Filters:  len(c.filters),
		SRID:     c.srid,
	}
}
