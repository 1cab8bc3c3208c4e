package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/hupe1980/geoset/attr"
	"github.com/hupe1980/geoset/codec"
	"github.com/hupe1980/geoset/geometry"
	"github.com/hupe1980/geoset/graph"
	"github.com/hupe1980/geoset/persistence"
	"github.com/hupe1980/geoset/spatial"
	"github.com/hupe1980/geoset/table"
	"github.com/hupe1980/geoset/wal"
)

// Options configures a Coordinator.
type Options struct {
	// SRID is the coordinate reference system every shape in the dataset
	// must carry. Defaults to geometry.WGS84.
	SRID geometry.SRID

	// Codec serializes journal payloads and snapshot sections. Defaults to
	// codec.Default.
	Codec codec.Codec

	// ImageSchema, when non-nil, is enforced on the attribute documents of
	// registered images.
	ImageSchema attr.Schema

	// PolygonSchema, when non-nil, is enforced on the attribute documents
	// of registered polygons.
	PolygonSchema attr.Schema

	// Durability journals mutations for crash recovery. Defaults to
	// NoopDurability.
	Durability Durability

	// Workers bounds the goroutines used by containment recomputation.
	// Defaults to GOMAXPROCS.
	Workers int

	// Compression selects how snapshot sections are compressed.
	Compression persistence.Compression
}

// Coordinator owns the mutable state of one dataset and the lock that
// guards it. All exported methods are safe for concurrent use.
type Coordinator struct {
	mu sync.RWMutex

	srid          geometry.SRID
	codec         codec.Codec
	imageSchema   attr.Schema
	polygonSchema attr.Schema
	compression   persistence.Compression

	images     *table.Images
	polygons   *table.Polygons
	graph      *graph.Bipartite
	imageIdx   *spatial.Index
	polygonIdx *spatial.Index
	filters    map[string]*attr.FilterSet

	durability Durability
	workers    int
	closed     bool
}

// New creates an empty coordinator.
func New(opts Options) *Coordinator {
	if opts.SRID == 0 {
		opts.SRID = geometry.WGS84
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Durability == nil {
		opts.Durability = NoopDurability{}
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}

	return &Coordinator{
		srid:          opts.SRID,
		codec:         opts.Codec,
		imageSchema:   opts.ImageSchema,
		polygonSchema: opts.PolygonSchema,
		compression:   opts.Compression,
		images:        table.NewImages(opts.ImageSchema),
		polygons:      table.NewPolygons(opts.PolygonSchema),
		graph:         graph.New(),
		imageIdx:      spatial.New(),
		polygonIdx:    spatial.New(),
		filters:       make(map[string]*attr.FilterSet),
		durability:    opts.Durability,
		workers:       opts.Workers,
	}
}

// SRID returns the coordinate reference system of the dataset.
func (c *Coordinator) SRID() geometry.SRID {
	return c.srid
}

// RegisterImage inserts or replaces an image row, wires its containment
// edges and returns the sorted ids of polygons the footprint contains.
// Replacing an existing image rewires its edges from scratch.
func (c *Coordinator) RegisterImage(ctx context.Context, rec table.ImageRecord) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if rec.Name == "" {
		return nil, fmt.Errorf("engine: register image: %w", table.ErrEmptyKey)
	}
	if err := c.validateShape(rec.Footprint); err != nil {
		return nil, fmt.Errorf("engine: image %q: %w", rec.Name, err)
	}
	if c.imageSchema != nil {
		if err := c.imageSchema.Validate(rec.Attrs); err != nil {
			return nil, fmt.Errorf("engine: image %q: %w", rec.Name, err)
		}
	}
	payload, err := c.codec.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("engine: encode image %q: %w", rec.Name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	prev, hadPrev := c.images.Get(rec.Name)

	if err := c.durability.LogPrepare(wal.OpRegisterImage, rec.Name, payload); err != nil {
		return nil, fmt.Errorf("engine: prepare register image: %w", err)
	}
	contained, err := c.applyRegisterImage(rec)
	if err != nil {
		return nil, err
	}
	if err := c.durability.LogCommit(wal.OpRegisterImage, rec.Name); err != nil {
		return nil, c.rollback(err, func() error {
			if hadPrev {
				_, rerr := c.applyRegisterImage(prev)
				return rerr
			}
			_, rerr := c.applyRemoveImage(rec.Name)
			return rerr
		})
	}
	return contained, nil
}

// RegisterPolygon inserts or replaces a polygon row, wires its containment
// edges and returns the sorted names of images whose footprints contain the
// boundary. Polygons must carry at least one segmentation class.
func (c *Coordinator) RegisterPolygon(ctx context.Context, rec table.PolygonRecord) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("engine: register polygon: %w", table.ErrEmptyKey)
	}
	if len(rec.Classes) == 0 {
		return nil, fmt.Errorf("engine: polygon %q: %w", rec.ID, ErrNoClasses)
	}
	if err := c.validateShape(rec.Boundary); err != nil {
		return nil, fmt.Errorf("engine: polygon %q: %w", rec.ID, err)
	}
	if c.polygonSchema != nil {
		if err := c.polygonSchema.Validate(rec.Attrs); err != nil {
			return nil, fmt.Errorf("engine: polygon %q: %w", rec.ID, err)
		}
	}
	payload, err := c.codec.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("engine: encode polygon %q: %w", rec.ID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	prev, hadPrev := c.polygons.Get(rec.ID)

	if err := c.durability.LogPrepare(wal.OpRegisterPolygon, rec.ID, payload); err != nil {
		return nil, fmt.Errorf("engine: prepare register polygon: %w", err)
	}
	containing, err := c.applyRegisterPolygon(rec)
	if err != nil {
		return nil, err
	}
	if err := c.durability.LogCommit(wal.OpRegisterPolygon, rec.ID); err != nil {
		return nil, c.rollback(err, func() error {
			if hadPrev {
				_, rerr := c.applyRegisterPolygon(prev)
				return rerr
			}
			_, rerr := c.applyRemovePolygon(rec.ID)
			return rerr
		})
	}
	return containing, nil
}

// RemoveImage deletes an image row and all its containment edges.
func (c *Coordinator) RemoveImage(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.images.Has(name) {
		return fmt.Errorf("engine: image %q: %w", name, ErrNotFound)
	}

	if err := c.durability.LogPrepare(wal.OpRemoveImage, name, nil); err != nil {
		return fmt.Errorf("engine: prepare remove image: %w", err)
	}
	prev, err := c.applyRemoveImage(name)
	if err != nil {
		return err
	}
	if err := c.durability.LogCommit(wal.OpRemoveImage, name); err != nil {
		return c.rollback(err, func() error {
			_, rerr := c.applyRegisterImage(prev)
			return rerr
		})
	}
	return nil
}

// RemovePolygon deletes a polygon row and all its containment edges.
func (c *Coordinator) RemovePolygon(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.polygons.Has(id) {
		return fmt.Errorf("engine: polygon %q: %w", id, ErrNotFound)
	}

	if err := c.durability.LogPrepare(wal.OpRemovePolygon, id, nil); err != nil {
		return fmt.Errorf("engine: prepare remove polygon: %w", err)
	}
	prev, err := c.applyRemovePolygon(id)
	if err != nil {
		return err
	}
	if err := c.durability.LogCommit(wal.OpRemovePolygon, id); err != nil {
		return c.rollback(err, func() error {
			_, rerr := c.applyRegisterPolygon(prev)
			return rerr
		})
	}
	return nil
}

// statusPayload is the journal payload of a status update.
type statusPayload struct {
	Status table.Status `json:"status"`
}

// UpdateImageStatus moves an image through its processing lifecycle.
func (c *Coordinator) UpdateImageStatus(ctx context.Context, name string, status table.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validStatus(status) {
		return fmt.Errorf("engine: invalid image status %q", status)
	}
	payload, err := c.codec.Marshal(statusPayload{Status: status})
	if err != nil {
		return fmt.Errorf("engine: encode status: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	prev, ok := c.images.Get(name)
	if !ok {
		return fmt.Errorf("engine: image %q: %w", name, ErrNotFound)
	}

	if err := c.durability.LogPrepare(wal.OpSetImageStatus, name, payload); err != nil {
		return fmt.Errorf("engine: prepare status update: %w", err)
	}
	c.images.SetStatus(name, status)
	if err := c.durability.LogCommit(wal.OpSetImageStatus, name); err != nil {
		return c.rollback(err, func() error {
			c.images.SetStatus(name, prev.Status)
			return nil
		})
	}
	return nil
}

// Close marks the coordinator closed and closes its journal. Mutations and
// snapshots fail with ErrClosed afterwards; queries keep serving the frozen
// in-memory state.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.durability.Close()
}

func validStatus(s table.Status) bool {
	switch s {
	case table.StatusPending, table.StatusDownloaded, table.StatusProcessed, table.StatusFailed:
		return true
	}
	return false
}

// validateShape rejects shapes that are empty, malformed or in a different
// coordinate reference system than the dataset.
func (c *Coordinator) validateShape(s geometry.Shape) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.SRID != c.srid {
		return &geometry.ErrCRSMismatch{Want: c.srid, Got: s.SRID}
	}
	return nil
}

// rollback undoes an applied mutation after its commit entry failed to
// reach the journal, so memory never runs ahead of what recovery would
// replay. It returns the commit error, annotated if the undo failed too.
func (c *Coordinator) rollback(commitErr error, undo func() error) error {
	if err := undo(); err != nil {
		return fmt.Errorf("engine: commit failed: %w (rollback failed: %v)", commitErr, err)
	}
	return fmt.Errorf("engine: commit failed: %w", commitErr)
}

// applyRegisterImage inserts or replaces an image row, computing containment
// against the current polygon set. Caller holds the write lock.
func (c *Coordinator) applyRegisterImage(rec table.ImageRecord) ([]string, error) {
	contained, err := c.containedPolygonsLocked(rec.Footprint)
	if err != nil {
		return nil, err
	}

	prev, hadPrev := c.images.Get(rec.Name)
	if hadPrev {
		affected, err := c.graph.ClearImage(rec.Name)
		if err != nil {
			return nil, err
		}
		for _, id := range affected {
			c.polygons.AdjustImgCount(id, -1)
		}
		c.imageIdx.Remove(rec.Name, prev.Footprint.Bound())
	} else if _, err := c.graph.EnsureImage(rec.Name); err != nil {
		return nil, err
	}

	if _, err := c.images.Upsert(rec); err != nil {
		return nil, err
	}
	c.imageIdx.Insert(rec.Name, rec.Footprint.Bound())

	for _, id := range contained {
		if err := c.graph.AddEdge(rec.Name, id); err != nil {
			return nil, err
		}
		c.polygons.AdjustImgCount(id, 1)
	}
	return contained, nil
}

// applyRegisterPolygon inserts or replaces a polygon row, computing
// containment against the current image set. Caller holds the write lock.
func (c *Coordinator) applyRegisterPolygon(rec table.PolygonRecord) ([]string, error) {
	containing, err := c.containingImagesLocked(rec.Boundary)
	if err != nil {
		return nil, err
	}

	prev, hadPrev := c.polygons.Get(rec.ID)
	if hadPrev {
		if _, err := c.graph.ClearPolygon(rec.ID); err != nil {
			return nil, err
		}
		c.polygonIdx.Remove(rec.ID, prev.Boundary.Bound())
	} else if _, err := c.graph.EnsurePolygon(rec.ID); err != nil {
		return nil, err
	}

	if _, err := c.polygons.Upsert(rec); err != nil {
		return nil, err
	}
	c.polygonIdx.Insert(rec.ID, rec.Boundary.Bound())

	for _, name := range containing {
		if err := c.graph.AddEdge(name, rec.ID); err != nil {
			return nil, err
		}
	}
	c.polygons.SetImgCount(rec.ID, len(containing))
	return containing, nil
}

// applyRemoveImage deletes an image row and returns it for rollback.
// Caller holds the write lock.
func (c *Coordinator) applyRemoveImage(name string) (table.ImageRecord, error) {
	prev, ok := c.images.Get(name)
	if !ok {
		return table.ImageRecord{}, fmt.Errorf("engine: image %q: %w", name, ErrNotFound)
	}
	affected, err := c.graph.RemoveImage(name)
	if err != nil {
		return table.ImageRecord{}, err
	}
	for _, id := range affected {
		c.polygons.AdjustImgCount(id, -1)
	}
	c.images.Delete(name)
	c.imageIdx.Remove(name, prev.Footprint.Bound())
	return prev, nil
}

// applyRemovePolygon deletes a polygon row and returns it for rollback.
// Caller holds the write lock.
func (c *Coordinator) applyRemovePolygon(id string) (table.PolygonRecord, error) {
	prev, ok := c.polygons.Get(id)
	if !ok {
		return table.PolygonRecord{}, fmt.Errorf("engine: polygon %q: %w", id, ErrNotFound)
	}
	if err := c.graph.RemovePolygon(id); err != nil {
		return table.PolygonRecord{}, err
	}
	c.polygons.Delete(id)
	c.polygonIdx.Remove(id, prev.Boundary.Bound())
	return prev, nil
}
