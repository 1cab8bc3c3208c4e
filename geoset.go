package geoset

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/hupe1980/geoset/attr"
	"github.com/hupe1980/geoset/blobstore"
	"github.com/hupe1980/geoset/codec"
	"github.com/hupe1980/geoset/engine"
	"github.com/hupe1980/geoset/geometry"
	"github.com/hupe1980/geoset/manifest"
	"github.com/hupe1980/geoset/persistence"
	"github.com/hupe1980/geoset/resource"
	"github.com/hupe1980/geoset/table"
)

// Associator is the bookkeeping structure linking raster images to vector
// polygons. It owns the containment graph, both metadata tables and the
// per-polygon image counts, and keeps them consistent under every operation.
//
// External collaborators (downloaders, cutters, converters) interact with a
// dataset only through this facade.
//
// An Associator is safe for concurrent use.
type Associator struct {
	eng         *engine.Coordinator
	codec       codec.Codec
	metrics     MetricsCollector
	logger      *Logger
	controller  *resource.Controller
	compression persistence.Compression

	// Persistence wiring. All nil for in-memory datasets; pm is nil for
	// object-store datasets, which carry no journal.
	store     blobstore.BlobStore
	manifests *manifest.Store
	pm        *persistence.Manager

	// mu guards cur and closed and serializes commits. The engine has its
	// own lock for dataset state.
	mu     sync.Mutex
	cur    *manifest.Manifest
	closed bool

	// commitMu orders journaled mutations against checkpoint truncation. A
	// mutation journaled between the snapshot write and the truncation would
	// be erased without being covered by the snapshot, so mutations hold the
	// read side and Commit holds the write side across that span.
	commitMu sync.RWMutex

	// Automatic checkpointing. The journal signals through checkpointCh and
	// a background worker performs the commit, so the mutation that tripped
	// the threshold never blocks on snapshot IO.
	checkpointCh chan struct{}
	done         chan struct{}
	wg           sync.WaitGroup
}

// New creates an in-memory Associator. State lives only in process memory;
// use Open or OpenStore for durable datasets, or SaveToWriter to snapshot
// explicitly.
func New(optFns ...Option) *Associator {
	o := applyOptions(optFns)
	return newAssociator(o, nil)
}

// newAssociator wires an engine from resolved options. durability may be nil
// (no journal).
func newAssociator(o options, durability engine.Durability) *Associator {
	eng := engine.New(engine.Options{
		SRID:          o.srid,
		Codec:         o.codec,
		ImageSchema:   o.imageSchema,
		PolygonSchema: o.polygonSchema,
		Durability:    durability,
		Workers:       o.workers,
		Compression:   o.compression,
	})

	c := o.codec
	if c == nil {
		c = codec.Default
	}

	return &Associator{
		eng:         eng,
		codec:       c,
		metrics:     o.metricsCollector,
		logger:      o.logger,
		controller:  o.controller,
		compression: o.compression,
	}
}

// SRID returns the spatial reference system all shapes in the dataset share.
func (a *Associator) SRID() geometry.SRID {
	return a.eng.SRID()
}

// RegisterImage adds or updates an image and returns how many polygons its
// footprint contains.
//
// The footprint is validated and containment is computed against every
// polygon before anything is mutated; a returned error means the dataset is
// unchanged. Registering an existing name replaces the record: its old edges
// are dropped and new ones computed from the new footprint.
func (a *Associator) RegisterImage(ctx context.Context, rec table.ImageRecord) (int, error) {
	start := time.Now()

	a.commitMu.RLock()
	contained, err := a.eng.RegisterImage(ctx, rec)
	a.commitMu.RUnlock()
	err = translateError(err)

	a.metrics.RecordRegister(time.Since(start), err)
	a.logger.LogRegister(ctx, "image", rec.Name, len(contained), err)

	if err != nil {
		return 0, err
	}
	return len(contained), nil
}

// RegisterPolygon adds or updates a polygon and returns how many image
// footprints contain its boundary. The polygon's image count starts at that
// value.
//
// Each polygon must carry at least one class label.
func (a *Associator) RegisterPolygon(ctx context.Context, rec table.PolygonRecord) (int, error) {
	start := time.Now()

	a.commitMu.RLock()
	containing, err := a.eng.RegisterPolygon(ctx, rec)
	a.commitMu.RUnlock()
	err = translateError(err)

	a.metrics.RecordRegister(time.Since(start), err)
	a.logger.LogRegister(ctx, "polygon", rec.ID, len(containing), err)

	if err != nil {
		return 0, err
	}
	return len(containing), nil
}

// RemoveImage removes an image, its graph vertex and all incident edges,
// decrementing the image count of every polygon it contained.
func (a *Associator) RemoveImage(ctx context.Context, name string) error {
	start := time.Now()

	a.commitMu.RLock()
	err := a.eng.RemoveImage(ctx, name)
	a.commitMu.RUnlock()
	err = translateError(err)

	a.metrics.RecordRemove(time.Since(start), err)
	a.logger.LogRemove(ctx, "image", name, err)

	return err
}

// RemovePolygon removes a polygon, its graph vertex and all incident edges.
// No other counts change.
func (a *Associator) RemovePolygon(ctx context.Context, id string) error {
	start := time.Now()

	a.commitMu.RLock()
	err := a.eng.RemovePolygon(ctx, id)
	a.commitMu.RUnlock()
	err = translateError(err)

	a.metrics.RecordRemove(time.Since(start), err)
	a.logger.LogRemove(ctx, "polygon", id, err)

	return err
}

// UpdateImageStatus moves an image to a new pipeline station
// (pending/downloaded/processed/failed).
func (a *Associator) UpdateImageStatus(ctx context.Context, name string, status table.Status) error {
	start := time.Now()

	a.commitMu.RLock()
	err := a.eng.UpdateImageStatus(ctx, name, status)
	a.commitMu.RUnlock()
	err = translateError(err)

	a.metrics.RecordUpdate(time.Since(start), err)
	a.logger.LogStatus(ctx, name, string(status), err)

	return err
}

// RecomputeContainments rebuilds the containment graph and every image count
// from the current geometries. It is idempotent and is the repair path when
// Check reports divergence.
func (a *Associator) RecomputeContainments(ctx context.Context) error {
	start := time.Now()
	stats := a.eng.Stats()

	err := translateError(a.eng.RecomputeContainments(ctx))

	a.metrics.RecordRecompute(time.Since(start), err)
	a.logger.LogRecompute(ctx, stats.Images, stats.Polygons, err)

	return err
}

// CombineClasses relabels every polygon carrying any of the source classes
// with target, removing the sources. It returns the ids of the polygons
// changed.
func (a *Associator) CombineClasses(ctx context.Context, target string, sources ...string) ([]string, error) {
	a.commitMu.RLock()
	changed, err := a.eng.CombineClasses(ctx, target, sources...)
	a.commitMu.RUnlock()
	err = translateError(err)

	a.logger.LogClasses(ctx, "combine", len(changed), err)

	if err != nil {
		return nil, err
	}
	return changed, nil
}

// DropClasses removes the given class labels from every polygon carrying
// them. Polygons left with no labels are kept unless dropOrphans is set, in
// which case they are removed through the standard removal path. It returns
// the ids of the polygons changed and the ids dropped.
func (a *Associator) DropClasses(ctx context.Context, dropOrphans bool, classes ...string) (changed, dropped []string, err error) {
	a.commitMu.RLock()
	changed, dropped, err = a.eng.DropClasses(ctx, dropOrphans, classes...)
	a.commitMu.RUnlock()
	err = translateError(err)

	a.logger.LogClasses(ctx, "drop", len(changed), err)

	if err != nil {
		return nil, nil, err
	}
	return changed, dropped, nil
}

// HasImage reports whether an image with the given name is registered.
func (a *Associator) HasImage(name string) bool {
	return a.eng.HasImage(name)
}

// HasPolygon reports whether a polygon with the given id is registered.
func (a *Associator) HasPolygon(id string) bool {
	return a.eng.HasPolygon(id)
}

// Image returns a copy of the image record with the given name.
func (a *Associator) Image(ctx context.Context, name string) (table.ImageRecord, error) {
	rec, err := a.eng.Image(name)
	return rec, translateError(err)
}

// Polygon returns a copy of the polygon record with the given id.
func (a *Associator) Polygon(ctx context.Context, id string) (table.PolygonRecord, error) {
	rec, err := a.eng.Polygon(id)
	return rec, translateError(err)
}

// ImagesContaining returns the names of all images whose footprint contains
// the polygon's boundary, sorted.
func (a *Associator) ImagesContaining(ctx context.Context, id string) ([]string, error) {
	start := time.Now()

	names, err := a.eng.ImagesContaining(id)
	err = translateError(err)

	a.metrics.RecordQuery(time.Since(start), err)

	if err != nil {
		return nil, err
	}
	return names, nil
}

// PolygonsContainedIn returns the ids of all polygons contained in the
// image's footprint, sorted.
func (a *Associator) PolygonsContainedIn(ctx context.Context, name string) ([]string, error) {
	start := time.Now()

	ids, err := a.eng.PolygonsContainedIn(name)
	err = translateError(err)

	a.metrics.RecordQuery(time.Since(start), err)

	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ImageCount returns the number of images containing the polygon. This is
// the stored denormalized count, not a recomputation.
func (a *Associator) ImageCount(ctx context.Context, id string) (int, error) {
	n, err := a.eng.ImageCount(id)
	return n, translateError(err)
}

// Images returns a point-in-time iterator over copies of all image records,
// ordered by name. Mutations during iteration are not observed.
func (a *Associator) Images() iter.Seq[table.ImageRecord] {
	return a.eng.Images()
}

// Polygons returns a point-in-time iterator over copies of all polygon
// records, ordered by id.
func (a *Associator) Polygons() iter.Seq[table.PolygonRecord] {
	return a.eng.Polygons()
}

// Classes returns all polygon class labels in use, sorted.
func (a *Associator) Classes() []string {
	return a.eng.Classes()
}

// PolygonsInClass returns the ids of all polygons carrying the given class,
// sorted.
func (a *Associator) PolygonsInClass(class string) []string {
	return a.eng.PolygonsInClass(class)
}

// Stats returns dataset size counters.
func (a *Associator) Stats() engine.Stats {
	return a.eng.Stats()
}

// FilterImages returns copies of all image records matching the filter set,
// ordered by name. A nil filter set matches everything.
func (a *Associator) FilterImages(fs *attr.FilterSet) []table.ImageRecord {
	start := time.Now()
	recs := a.eng.FilterImages(fs)
	a.metrics.RecordQuery(time.Since(start), nil)
	return recs
}

// FilterPolygons returns copies of all polygon records matching the filter
// set, ordered by id.
func (a *Associator) FilterPolygons(fs *attr.FilterSet) []table.PolygonRecord {
	start := time.Now()
	recs := a.eng.FilterPolygons(fs)
	a.metrics.RecordQuery(time.Since(start), nil)
	return recs
}

// SaveFilter stores a named filter set with the dataset. Saved filters
// persist through snapshots and are available after reopening.
func (a *Associator) SaveFilter(name string, fs *attr.FilterSet) error {
	return translateError(a.eng.SaveFilter(name, fs))
}

// SavedFilter returns the saved filter set with the given name.
func (a *Associator) SavedFilter(name string) (*attr.FilterSet, bool) {
	return a.eng.SavedFilter(name)
}

// SavedFilters returns the names of all saved filter sets, sorted.
func (a *Associator) SavedFilters() []string {
	return a.eng.SavedFilters()
}

// DeleteFilter removes a saved filter set. It reports whether the name
// existed.
func (a *Associator) DeleteFilter(name string) bool {
	return a.eng.DeleteFilter(name)
}
