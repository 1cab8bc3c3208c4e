package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/geoset/geometry"
	"github.com/hupe1980/geoset/graph"
)

// containedPolygonsLocked returns the sorted ids of polygons whose boundary
// lies inside the footprint. The R-tree prunes to bound candidates; each
// survivor is re-checked with the exact predicate. Caller holds a lock.
func (c *Coordinator) containedPolygonsLocked(footprint geometry.Shape) ([]string, error) {
	candidates := c.polygonIdx.Within(footprint.Bound())
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		boundary, ok := c.polygons.Boundary(id)
		if !ok {
			continue
		}
		inside, err := geometry.Contains(footprint, boundary)
		if err != nil {
			return nil, err
		}
		if inside {
			out = append(out, id)
		}
	}
	return out, nil
}

// containingImagesLocked returns the sorted names of images whose footprint
// contains the boundary. Caller holds a lock.
func (c *Coordinator) containingImagesLocked(boundary geometry.Shape) ([]string, error) {
	candidates := c.imageIdx.Covering(boundary.Bound())
	out := make([]string, 0, len(candidates))
	for _, name := range candidates {
		footprint, ok := c.images.Footprint(name)
		if !ok {
			continue
		}
		inside, err := geometry.Contains(footprint, boundary)
		if err != nil {
			return nil, err
		}
		if inside {
			out = append(out, name)
		}
	}
	return out, nil
}

// RecomputeContainments rebuilds the containment graph and every polygon
// count from the stored geometry. It is idempotent; running it on a
// consistent dataset changes nothing. Containment tests fan out across the
// worker pool; the graph swap itself is serial and deterministic.
func (c *Coordinator) RecomputeContainments(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.recomputeLocked(ctx)
}

// recomputeLocked does the actual rebuild. Caller holds the write lock; the
// workers only read the tables and indexes, so sharing them is safe.
func (c *Coordinator) recomputeLocked(ctx context.Context) error {
	images := c.images.Shapes()
	polygons := c.polygons.IDs()

	contained := make([][]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, img := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ids, err := c.containedPolygonsLocked(img.Shape)
			if err != nil {
				return err
			}
			contained[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rebuilt := graph.New()
	for _, id := range polygons {
		if err := rebuilt.AddPolygon(id); err != nil {
			return err
		}
	}
	counts := make(map[string]int, len(polygons))
	for i, img := range images {
		if err := rebuilt.AddImage(img.Name); err != nil {
			return err
		}
		for _, id := range contained[i] {
			if err := rebuilt.AddEdge(img.Name, id); err != nil {
				return err
			}
			counts[id]++
		}
	}

	c.graph = rebuilt
	for _, id := range polygons {
		c.polygons.SetImgCount(id, counts[id])
	}
	return nil
}
