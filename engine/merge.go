package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/geoset/geometry"
	"github.com/hupe1980/geoset/table"
	"github.com/hupe1980/geoset/wal"
)

// MergeStats counts what a merge did.
type MergeStats struct {
	ImagesAdded     int
	ImagesUpdated   int
	ImagesSkipped   int
	PolygonsAdded   int
	PolygonsUpdated int
	PolygonsSkipped int
}

// MergeFrom bulk-appends every row of src into the dataset and rebuilds the
// containment graph from scratch. With overwrite set, rows sharing a key
// replace the existing ones; otherwise they are skipped. Both datasets must
// share a coordinate reference system.
//
// The merge journals one batch with a single durability boundary. Individual
// register entries replay independently, so a crash mid-batch recovers the
// prefix that committed; the dataset stays internally consistent either way.
func (c *Coordinator) MergeFrom(ctx context.Context, src *Coordinator, overwrite bool) (MergeStats, error) {
	var stats MergeStats

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if src == c {
		return stats, nil
	}
	if src.srid != c.srid {
		return stats, &geometry.ErrCRSMismatch{Want: c.srid, Got: src.srid}
	}

	// Snapshot the source without holding our own lock, so two datasets
	// merging into each other cannot deadlock.
	var srcImages []table.ImageRecord
	for rec := range src.Images() {
		srcImages = append(srcImages, rec)
	}
	var srcPolygons []table.PolygonRecord
	for rec := range src.Polygons() {
		srcPolygons = append(srcPolygons, rec)
	}

	// Rows must pass this dataset's schemas, not just the source's.
	for _, rec := range srcImages {
		if c.imageSchema != nil {
			if err := c.imageSchema.Validate(rec.Attrs); err != nil {
				return stats, fmt.Errorf("engine: merge image %q: %w", rec.Name, err)
			}
		}
	}
	for _, rec := range srcPolygons {
		if len(rec.Classes) == 0 {
			return stats, fmt.Errorf("engine: merge polygon %q: %w", rec.ID, ErrNoClasses)
		}
		if c.polygonSchema != nil {
			if err := c.polygonSchema.Validate(rec.Attrs); err != nil {
				return stats, fmt.Errorf("engine: merge polygon %q: %w", rec.ID, err)
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return stats, ErrClosed
	}

	applyImages := srcImages[:0]
	var records []wal.Record
	for _, rec := range srcImages {
		exists := c.images.Has(rec.Name)
		if exists && !overwrite {
			stats.ImagesSkipped++
			continue
		}
		if exists {
			stats.ImagesUpdated++
		} else {
			stats.ImagesAdded++
		}
		payload, err := c.codec.Marshal(rec)
		if err != nil {
			return MergeStats{}, fmt.Errorf("engine: encode image %q: %w", rec.Name, err)
		}
		records = append(records, wal.Record{Op: wal.OpRegisterImage, Key: rec.Name, Data: payload})
		applyImages = append(applyImages, rec)
	}

	applyPolygons := srcPolygons[:0]
	for _, rec := range srcPolygons {
		exists := c.polygons.Has(rec.ID)
		if exists && !overwrite {
			stats.PolygonsSkipped++
			continue
		}
		if exists {
			stats.PolygonsUpdated++
		} else {
			stats.PolygonsAdded++
		}
		payload, err := c.codec.Marshal(rec)
		if err != nil {
			return MergeStats{}, fmt.Errorf("engine: encode polygon %q: %w", rec.ID, err)
		}
		records = append(records, wal.Record{Op: wal.OpRegisterPolygon, Key: rec.ID, Data: payload})
		applyPolygons = append(applyPolygons, rec)
	}

	if len(records) == 0 {
		return stats, nil
	}
	if err := c.durability.LogBatch(records); err != nil {
		return MergeStats{}, fmt.Errorf("engine: journal merge: %w", err)
	}

	// Past the journal boundary the merge must complete; the rebuild below
	// runs detached from the caller's cancellation.
	for _, rec := range applyImages {
		if prev, ok := c.images.Get(rec.Name); ok {
			c.imageIdx.Remove(rec.Name, prev.Footprint.Bound())
		}
		if _, err := c.images.Upsert(rec); err != nil {
			return MergeStats{}, err
		}
		c.imageIdx.Insert(rec.Name, rec.Footprint.Bound())
	}
	for _, rec := range applyPolygons {
		if prev, ok := c.polygons.Get(rec.ID); ok {
			c.polygonIdx.Remove(rec.ID, prev.Boundary.Bound())
		}
		if _, err := c.polygons.Upsert(rec); err != nil {
			return MergeStats{}, err
		}
		c.polygonIdx.Insert(rec.ID, rec.Boundary.Bound())
	}

	if err := c.recomputeLocked(context.WithoutCancel(ctx)); err != nil {
		return MergeStats{}, err
	}
	return stats, nil
}
