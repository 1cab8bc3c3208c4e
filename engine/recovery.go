package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/geoset/table"
	"github.com/hupe1980/geoset/wal"
)

// ReplayEntry applies one committed journal entry during recovery. Replay is
// tolerant of entries the latest snapshot already reflects: registers are
// upserts, and removals or status updates of rows that are already gone are
// skipped. That keeps recovery correct when a crash landed between the
// snapshot and the journal truncation that normally follows it.
func (c *Coordinator) ReplayEntry(ctx context.Context, entry wal.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	switch entry.Type {
	case wal.OpRegisterImage:
		var rec table.ImageRecord
		if err := c.codec.Unmarshal(entry.Data, &rec); err != nil {
			return fmt.Errorf("engine: replay image %q: %w", entry.Key, err)
		}
		_, err := c.applyRegisterImage(rec)
		return err

	case wal.OpRegisterPolygon:
		var rec table.PolygonRecord
		if err := c.codec.Unmarshal(entry.Data, &rec); err != nil {
			return fmt.Errorf("engine: replay polygon %q: %w", entry.Key, err)
		}
		_, err := c.applyRegisterPolygon(rec)
		return err

	case wal.OpRemoveImage:
		if !c.images.Has(entry.Key) {
			return nil
		}
		_, err := c.applyRemoveImage(entry.Key)
		return err

	case wal.OpRemovePolygon:
		if !c.polygons.Has(entry.Key) {
			return nil
		}
		_, err := c.applyRemovePolygon(entry.Key)
		return err

	case wal.OpSetImageStatus:
		var p statusPayload
		if err := c.codec.Unmarshal(entry.Data, &p); err != nil {
			return fmt.Errorf("engine: replay status %q: %w", entry.Key, err)
		}
		c.images.SetStatus(entry.Key, p.Status)
		return nil

	case wal.OpCombineClasses:
		var p combinePayload
		if err := c.codec.Unmarshal(entry.Data, &p); err != nil {
			return fmt.Errorf("engine: replay combine classes: %w", err)
		}
		c.polygons.ReplaceClasses(p.Sources, entry.Key)
		return nil

	case wal.OpDropClasses:
		var p dropPayload
		if err := c.codec.Unmarshal(entry.Data, &p); err != nil {
			return fmt.Errorf("engine: replay drop classes: %w", err)
		}
		_, emptied := c.polygons.RemoveClasses(p.Classes)
		if p.DropOrphans {
			for _, id := range emptied {
				if _, err := c.applyRemovePolygon(id); err != nil {
					return err
				}
			}
		}
		return nil

	default:
		return fmt.Errorf("engine: replay: unexpected operation type %d", entry.Type)
	}
}
