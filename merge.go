package geoset

import (
	"context"
	"time"

	"github.com/hupe1980/geoset/engine"
)

// MergeOptions configures MergeFrom.
type MergeOptions struct {
	// Overwrite replaces records whose key already exists in the
	// destination. When false (the default), existing keys are skipped.
	Overwrite bool
}

// MergeFrom bulk-appends every image and polygon of src into this dataset
// and recomputes containments across the union. Both datasets must share the
// same spatial reference system; src is never modified.
//
// The appended rows are journaled as a single batch. On local datasets a
// commit follows, so the bulk append is covered by a snapshot instead of
// sitting in the journal.
func (a *Associator) MergeFrom(ctx context.Context, src *Associator, optFns ...func(*MergeOptions)) (engine.MergeStats, error) {
	o := MergeOptions{}
	for _, fn := range optFns {
		fn(&o)
	}

	start := time.Now()

	a.commitMu.RLock()
	stats, err := a.eng.MergeFrom(ctx, src.eng, o.Overwrite)
	a.commitMu.RUnlock()
	err = translateError(err)

	added := stats.ImagesAdded + stats.ImagesUpdated + stats.PolygonsAdded + stats.PolygonsUpdated
	skipped := stats.ImagesSkipped + stats.PolygonsSkipped
	a.metrics.RecordMerge(added, skipped, time.Since(start))
	a.logger.LogMerge(ctx, stats, err)

	if err != nil {
		return stats, err
	}

	if a.pm != nil && a.pm.WAL() != nil {
		if cerr := a.Commit(ctx); cerr != nil {
			return stats, cerr
		}
	}

	return stats, nil
}
