package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/geoset/attr"
	"github.com/hupe1980/geoset/codec"
	"github.com/hupe1980/geoset/geometry"
	"github.com/hupe1980/geoset/graph"
	"github.com/hupe1980/geoset/persistence"
	"github.com/hupe1980/geoset/spatial"
	"github.com/hupe1980/geoset/table"
)

// Snapshot section ids. New sections get new ids; ids are never reused.
const (
	sectionImages   uint16 = 1
	sectionPolygons uint16 = 2
	sectionGraph    uint16 = 3
	sectionFilters  uint16 = 4
)

var (
	_ persistence.Snapshotable   = (*Coordinator)(nil)
	_ persistence.SnapshotLoader = (*Coordinator)(nil)
	_ persistence.WALReplayer    = (*Coordinator)(nil)
)

// sectionFunc adapts a streaming save function to io.WriterTo so it can be
// handed to ContainerWriter.StreamSection.
type sectionFunc func(w io.Writer) error

func (f sectionFunc) WriteTo(w io.Writer) (int64, error) {
	sw := &sectionWriter{w: w}
	err := f(sw)
	return sw.n, err
}

type sectionWriter struct {
	w io.Writer
	n int64
}

func (sw *sectionWriter) Write(p []byte) (int, error) {
	n, err := sw.w.Write(p)
	sw.n += int64(n)
	return n, err
}

// Save writes a point-in-time snapshot of the dataset to w as a section
// container. Mutations are blocked for the duration.
func (c *Coordinator) Save(ctx context.Context, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return c.saveLocked(ctx, w)
}

func (c *Coordinator) saveLocked(ctx context.Context, w io.Writer) error {
	cw, err := persistence.NewContainerWriter(w, persistence.ContainerOptions{
		CodecName:   c.codec.Name(),
		SRID:        uint32(c.srid),
		Compression: c.compression,
	})
	if err != nil {
		return err
	}

	if err := cw.StreamSection(sectionImages, sectionFunc(func(w io.Writer) error {
		return c.images.Save(w, c.codec)
	})); err != nil {
		return fmt.Errorf("engine: snapshot images: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := cw.StreamSection(sectionPolygons, sectionFunc(func(w io.Writer) error {
		return c.polygons.Save(w, c.codec)
	})); err != nil {
		return fmt.Errorf("engine: snapshot polygons: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := cw.StreamSection(sectionGraph, sectionFunc(c.graph.Save)); err != nil {
		return fmt.Errorf("engine: snapshot graph: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	filters, err := c.codec.Marshal(c.filters)
	if err != nil {
		return fmt.Errorf("engine: snapshot filters: %w", err)
	}
	if err := cw.WriteSection(sectionFilters, filters); err != nil {
		return fmt.Errorf("engine: snapshot filters: %w", err)
	}

	return cw.Finish()
}

// LoadSnapshot replaces the dataset state with a snapshot file previously
// written by Save.
func (c *Coordinator) LoadSnapshot(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.LoadFromReader(ctx, f)
}

// LoadFromReader replaces the dataset state with a snapshot read from r.
// The snapshot must carry the coordinator's coordinate reference system.
func (c *Coordinator) LoadFromReader(ctx context.Context, r io.ReadSeeker) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cont, err := persistence.OpenContainer(r)
	if err != nil {
		return err
	}
	if cont.SRID != 0 && geometry.SRID(cont.SRID) != c.srid {
		return &geometry.ErrCRSMismatch{Want: c.srid, Got: geometry.SRID(cont.SRID)}
	}
	cdc := c.codec
	if cont.CodecName != "" && cont.CodecName != cdc.Name() {
		named, ok := codec.ByName(cont.CodecName)
		if !ok {
			return fmt.Errorf("engine: unknown snapshot codec %q", cont.CodecName)
		}
		cdc = named
	}

	images := table.NewImages(c.imageSchema)
	sec, err := cont.Section(sectionImages)
	if err != nil {
		return err
	}
	if err := images.Load(bytes.NewReader(sec), cdc); err != nil {
		return fmt.Errorf("engine: load images: %w", err)
	}

	polygons := table.NewPolygons(c.polygonSchema)
	sec, err = cont.Section(sectionPolygons)
	if err != nil {
		return err
	}
	if err := polygons.Load(bytes.NewReader(sec), cdc); err != nil {
		return fmt.Errorf("engine: load polygons: %w", err)
	}

	g := graph.New()
	sec, err = cont.Section(sectionGraph)
	if err != nil {
		return err
	}
	if err := g.Load(bytes.NewReader(sec)); err != nil {
		return fmt.Errorf("engine: load graph: %w", err)
	}

	filters := make(map[string]*attr.FilterSet)
	if cont.Has(sectionFilters) {
		sec, err = cont.Section(sectionFilters)
		if err != nil {
			return err
		}
		if err := cdc.Unmarshal(sec, &filters); err != nil {
			return fmt.Errorf("engine: load filters: %w", err)
		}
		if filters == nil {
			filters = make(map[string]*attr.FilterSet)
		}
	}

	imageIdx := spatial.New()
	for _, ns := range images.Shapes() {
		imageIdx.Insert(ns.Name, ns.Shape.Bound())
	}
	polygonIdx := spatial.New()
	for _, ns := range polygons.Shapes() {
		polygonIdx.Insert(ns.Name, ns.Shape.Bound())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.images = images
	c.polygons = polygons
	c.graph = g
	c.imageIdx = imageIdx
	c.polygonIdx = polygonIdx
	c.filters = filters
	return nil
}
