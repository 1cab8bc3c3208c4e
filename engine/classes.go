package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/geoset/table"
	"github.com/hupe1980/geoset/wal"
)

// combinePayload is the journal payload of a class merge. The target class
// travels as the entry key.
type combinePayload struct {
	Sources []string `json:"sources"`
}

// dropPayload is the journal payload of a class drop.
type dropPayload struct {
	Classes     []string `json:"classes"`
	DropOrphans bool     `json:"drop_orphans"`
}

// CombineClasses rewrites every polygon carrying any of the source classes:
// sources are removed and target added if not already present. It returns
// the sorted ids of rewritten polygons. A combine that matches no polygon is
// a no-op and is not journaled.
func (c *Coordinator) CombineClasses(ctx context.Context, target string, sources ...string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if target == "" {
		return nil, fmt.Errorf("engine: combine classes: empty target class")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("engine: combine classes: no source classes")
	}
	payload, err := c.codec.Marshal(combinePayload{Sources: sources})
	if err != nil {
		return nil, fmt.Errorf("engine: encode combine payload: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	prevRows := c.classRowsLocked(sources)
	if len(prevRows) == 0 {
		return nil, nil
	}

	if err := c.durability.LogPrepare(wal.OpCombineClasses, target, payload); err != nil {
		return nil, fmt.Errorf("engine: prepare combine classes: %w", err)
	}
	changed := c.polygons.ReplaceClasses(sources, target)
	if err := c.durability.LogCommit(wal.OpCombineClasses, target); err != nil {
		return nil, c.rollback(err, func() error {
			return c.restoreRows(prevRows)
		})
	}
	return changed, nil
}

// DropClasses strips the given classes from every polygon carrying them. It
// returns the sorted ids of rewritten polygons and, when dropOrphans is set,
// the sorted ids of polygons that were removed because the drop left them
// without any class. With dropOrphans unset such polygons stay, classless.
// A drop that matches no polygon is a no-op and is not journaled.
func (c *Coordinator) DropClasses(ctx context.Context, dropOrphans bool, classes ...string) ([]string, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if len(classes) == 0 {
		return nil, nil, fmt.Errorf("engine: drop classes: no classes")
	}
	payload, err := c.codec.Marshal(dropPayload{Classes: classes, DropOrphans: dropOrphans})
	if err != nil {
		return nil, nil, fmt.Errorf("engine: encode drop payload: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, ErrClosed
	}

	prevRows := c.classRowsLocked(classes)
	if len(prevRows) == 0 {
		return nil, nil, nil
	}

	if err := c.durability.LogPrepare(wal.OpDropClasses, "", payload); err != nil {
		return nil, nil, fmt.Errorf("engine: prepare drop classes: %w", err)
	}
	changed, emptied := c.polygons.RemoveClasses(classes)
	var dropped []string
	if dropOrphans {
		for _, id := range emptied {
			if _, err := c.applyRemovePolygon(id); err != nil {
				return nil, nil, err
			}
		}
		dropped = emptied
	}
	if err := c.durability.LogCommit(wal.OpDropClasses, ""); err != nil {
		return nil, nil, c.rollback(err, func() error {
			return c.restoreRows(prevRows)
		})
	}
	return changed, dropped, nil
}

// classRowsLocked snapshots the rows carrying any of the given classes, for
// rollback. Caller holds the write lock.
func (c *Coordinator) classRowsLocked(classes []string) []table.PolygonRecord {
	seen := make(map[string]bool)
	var rows []table.PolygonRecord
	for _, class := range classes {
		for _, id := range c.polygons.IDsByClass(class) {
			if seen[id] {
				continue
			}
			seen[id] = true
			if rec, ok := c.polygons.Get(id); ok {
				rows = append(rows, rec)
			}
		}
	}
	return rows
}

// restoreRows puts snapshotted rows back, re-registering the ones a drop
// removed entirely. Caller holds the write lock.
func (c *Coordinator) restoreRows(rows []table.PolygonRecord) error {
	for _, row := range rows {
		if !c.polygons.Has(row.ID) {
			if _, err := c.applyRegisterPolygon(row); err != nil {
				return err
			}
			continue
		}
		if _, err := c.polygons.Upsert(row); err != nil {
			return err
		}
	}
	return nil
}
