package geoset

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geoset/attr"
	"github.com/hupe1980/geoset/engine"
	"github.com/hupe1980/geoset/geometry"
	"github.com/hupe1980/geoset/table"
)

func testImage(name string, minX, minY, maxX, maxY float64) table.ImageRecord {
	return table.ImageRecord{
		Name:      name,
		Footprint: geometry.Rect(geometry.WGS84, minX, minY, maxX, maxY),
	}
}

func testPolygon(id string, minX, minY, maxX, maxY float64, classes ...string) table.PolygonRecord {
	if len(classes) == 0 {
		classes = []string{"field"}
	}
	return table.PolygonRecord{
		ID:       id,
		Boundary: geometry.Rect(geometry.WGS84, minX, minY, maxX, maxY),
		Classes:  classes,
	}
}

func TestAssociatorRegisterAndQuery(t *testing.T) {
	ctx := context.Background()
	a := New()

	contained, err := a.RegisterPolygon(ctx, testPolygon("p1", 0, 0, 10, 10))
	require.NoError(t, err)
	assert.Equal(t, 0, contained)

	contained, err = a.RegisterImage(ctx, testImage("i1", 0, 0, 20, 20))
	require.NoError(t, err)
	assert.Equal(t, 1, contained)

	// Overlaps p1 without containing it.
	contained, err = a.RegisterImage(ctx, testImage("i2", 5, 5, 8, 8))
	require.NoError(t, err)
	assert.Equal(t, 0, contained)

	assert.True(t, a.HasImage("i1"))
	assert.True(t, a.HasPolygon("p1"))
	assert.False(t, a.HasImage("ghost"))

	n, err := a.ImageCount(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	names, err := a.ImagesContaining(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"i1"}, names)

	ids, err := a.PolygonsContainedIn(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids)

	stats := a.Stats()
	assert.Equal(t, 2, stats.Images)
	assert.Equal(t, 1, stats.Polygons)
	assert.Equal(t, 1, stats.Edges)
	assert.Equal(t, geometry.WGS84, a.SRID())

	var seen []string
	for rec := range a.Images() {
		seen = append(seen, rec.Name)
	}
	assert.Equal(t, []string{"i1", "i2"}, seen)

	require.NoError(t, a.RemoveImage(ctx, "i1"))

	n, err = a.ImageCount(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAssociatorErrorTranslation(t *testing.T) {
	ctx := context.Background()
	a := New()

	t.Run("not found", func(t *testing.T) {
		_, err := a.Image(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = a.ImageCount(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, a.RemovePolygon(ctx, "ghost"), ErrNotFound)
		assert.ErrorIs(t, a.UpdateImageStatus(ctx, "ghost", table.StatusProcessed), ErrNotFound)
	})

	t.Run("crs mismatch", func(t *testing.T) {
		rec := table.ImageRecord{Name: "i1", Footprint: geometry.Rect(3857, 0, 0, 1, 1)}
		_, err := a.RegisterImage(ctx, rec)

		var mismatch *ErrCRSMismatch
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, geometry.WGS84, mismatch.Want)
		assert.Equal(t, geometry.SRID(3857), mismatch.Got)
	})

	t.Run("closed", func(t *testing.T) {
		b := New()
		require.NoError(t, b.Close())

		_, err := b.RegisterImage(ctx, testImage("i1", 0, 0, 1, 1))
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, b.RemoveImage(ctx, "i1"), ErrClosed)
	})

	t.Run("commit in memory", func(t *testing.T) {
		assert.ErrorIs(t, a.Commit(ctx), ErrNotPersistent)
	})
}

func TestAssociatorUpdateImageStatus(t *testing.T) {
	ctx := context.Background()
	a := New()

	_, err := a.RegisterImage(ctx, testImage("i1", 0, 0, 1, 1))
	require.NoError(t, err)

	require.NoError(t, a.UpdateImageStatus(ctx, "i1", table.StatusDownloaded))

	rec, err := a.Image(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, table.StatusDownloaded, rec.Status)

	assert.Error(t, a.UpdateImageStatus(ctx, "i1", table.Status("shipped")))
}

func TestAssociatorRecompute(t *testing.T) {
	ctx := context.Background()
	a := New(WithWorkers(2))

	_, err := a.RegisterPolygon(ctx, testPolygon("p1", 0, 0, 10, 10))
	require.NoError(t, err)
	_, err = a.RegisterImage(ctx, testImage("i1", 0, 0, 20, 20))
	require.NoError(t, err)

	before := a.Stats()

	require.NoError(t, a.RecomputeContainments(ctx))
	assert.Equal(t, before, a.Stats())

	report, err := a.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), report.String())
	assert.NoError(t, a.CheckStrict(ctx))
}

func TestAssociatorClasses(t *testing.T) {
	ctx := context.Background()
	a := New()

	_, err := a.RegisterPolygon(ctx, testPolygon("p1", 0, 0, 1, 1, "corn"))
	require.NoError(t, err)
	_, err = a.RegisterPolygon(ctx, testPolygon("p2", 2, 2, 3, 3, "wheat"))
	require.NoError(t, err)
	_, err = a.RegisterPolygon(ctx, testPolygon("p3", 4, 4, 5, 5, "corn", "irrigated"))
	require.NoError(t, err)

	assert.Equal(t, []string{"corn", "irrigated", "wheat"}, a.Classes())
	assert.Equal(t, []string{"p1", "p3"}, a.PolygonsInClass("corn"))

	changed, err := a.CombineClasses(ctx, "cereal", "corn", "wheat")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3"}, changed)
	assert.Equal(t, []string{"cereal", "irrigated"}, a.Classes())

	changed, dropped, err := a.DropClasses(ctx, true, "cereal")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3"}, changed)
	assert.Equal(t, []string{"p1", "p2"}, dropped)

	// p3 kept its irrigated label and survived.
	assert.True(t, a.HasPolygon("p3"))
	assert.False(t, a.HasPolygon("p1"))
}

func TestAssociatorFilters(t *testing.T) {
	ctx := context.Background()
	a := New(WithImageSchema(attr.Schema{"cloud_cover": attr.FieldTypeFloat}))

	sunny := testImage("clear", 0, 0, 1, 1)
	sunny.Attrs = attr.Document{"cloud_cover": attr.Float(0.05)}
	_, err := a.RegisterImage(ctx, sunny)
	require.NoError(t, err)

	hazy := testImage("hazy", 2, 2, 3, 3)
	hazy.Attrs = attr.Document{"cloud_cover": attr.Float(0.9)}
	_, err = a.RegisterImage(ctx, hazy)
	require.NoError(t, err)

	fs := attr.NewFilterSet(attr.Filter{
		Key:      "cloud_cover",
		Operator: attr.OpLessThan,
		Value:    attr.Float(0.2),
	})

	recs := a.FilterImages(fs)
	require.Len(t, recs, 1)
	assert.Equal(t, "clear", recs[0].Name)

	// Nil filter set matches everything.
	assert.Len(t, a.FilterImages(nil), 2)

	t.Run("saved filters", func(t *testing.T) {
		require.NoError(t, a.SaveFilter("usable", fs))
		assert.Equal(t, []string{"usable"}, a.SavedFilters())

		got, ok := a.SavedFilter("usable")
		require.True(t, ok)
		assert.Len(t, a.FilterImages(got), 1)

		assert.True(t, a.DeleteFilter("usable"))
		assert.False(t, a.DeleteFilter("usable"))
	})
}

func TestAssociatorMetrics(t *testing.T) {
	ctx := context.Background()
	collector := &BasicMetricsCollector{}
	a := New(WithMetricsCollector(collector))

	_, err := a.RegisterPolygon(ctx, testPolygon("p1", 0, 0, 10, 10))
	require.NoError(t, err)
	_, err = a.RegisterImage(ctx, testImage("i1", 0, 0, 20, 20))
	require.NoError(t, err)

	// Failed registration still counts, as an error.
	_, err = a.RegisterImage(ctx, table.ImageRecord{Name: ""})
	require.Error(t, err)

	require.NoError(t, a.RemoveImage(ctx, "i1"))
	assert.Error(t, a.RemoveImage(ctx, "i1"))

	_, err = a.ImagesContaining(ctx, "p1")
	require.NoError(t, err)

	stats := collector.GetStats()
	assert.Equal(t, int64(3), stats.RegisterCount)
	assert.Equal(t, int64(1), stats.RegisterErrors)
	assert.Equal(t, int64(2), stats.RemoveCount)
	assert.Equal(t, int64(1), stats.RemoveErrors)
	assert.Equal(t, int64(1), stats.QueryCount)
	assert.GreaterOrEqual(t, stats.RegisterAvgNanos, int64(0))
}

func TestAssociatorLogger(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer
	a := New(WithLogger(NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))))

	_, err := a.RegisterPolygon(ctx, testPolygon("p1", 0, 0, 10, 10))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"level":"DEBUG"`)
	assert.Contains(t, out, `"msg":"register completed"`)
	assert.Contains(t, out, `"kind":"polygon"`)
	assert.Contains(t, out, `"key":"p1"`)

	buf.Reset()
	require.ErrorIs(t, a.RemoveImage(ctx, "missing"), ErrNotFound)
	out = buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"msg":"remove failed"`)

	// An info-gated logger swallows the per-mutation debug records.
	buf.Reset()
	b := New(WithLogger(NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))))
	_, err = b.RegisterPolygon(ctx, testPolygon("p2", 0, 0, 10, 10))
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestAssociatorMergeFrom(t *testing.T) {
	ctx := context.Background()

	src := New()
	_, err := src.RegisterPolygon(ctx, testPolygon("p1", 0, 0, 10, 10))
	require.NoError(t, err)
	_, err = src.RegisterImage(ctx, testImage("i1", 0, 0, 20, 20))
	require.NoError(t, err)
	require.NoError(t, src.UpdateImageStatus(ctx, "i1", table.StatusProcessed))

	dst := New()
	_, err = dst.RegisterImage(ctx, testImage("i1", 50, 50, 60, 60))
	require.NoError(t, err)

	t.Run("skip existing", func(t *testing.T) {
		stats, err := dst.MergeFrom(ctx, src)
		require.NoError(t, err)
		assert.Equal(t, engine.MergeStats{PolygonsAdded: 1, ImagesSkipped: 1}, stats)

		// The local footprint won, so i1 does not contain p1.
		n, err := dst.ImageCount(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("overwrite", func(t *testing.T) {
		stats, err := dst.MergeFrom(ctx, src, func(o *MergeOptions) {
			o.Overwrite = true
		})
		require.NoError(t, err)
		assert.Equal(t, engine.MergeStats{ImagesUpdated: 1, PolygonsUpdated: 1}, stats)

		rec, err := dst.Image(ctx, "i1")
		require.NoError(t, err)
		assert.Equal(t, table.StatusProcessed, rec.Status)

		n, err := dst.ImageCount(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	report, err := dst.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), report.String())
}

func TestAssociatorSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := New()

	_, err := a.RegisterPolygon(ctx, testPolygon("p1", 0, 0, 10, 10))
	require.NoError(t, err)
	_, err = a.RegisterImage(ctx, testImage("i1", 0, 0, 20, 20))
	require.NoError(t, err)
	require.NoError(t, a.SaveFilter("all", attr.NewFilterSet()))

	var buf bytes.Buffer
	require.NoError(t, a.SaveToWriter(ctx, &buf))

	b := New()
	require.NoError(t, b.LoadFromReader(ctx, bytes.NewReader(buf.Bytes())))

	assert.Equal(t, a.Stats(), b.Stats())

	n, err := b.ImageCount(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := b.SavedFilter("all")
	assert.True(t, ok)

	report, err := b.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), report.String())
}

func TestAssociatorCheckStrict(t *testing.T) {
	err := &ErrInvariantViolation{Report: &engine.CheckReport{
		CountMismatches: []engine.CountMismatch{{PolygonID: "p1", Stored: 2, Graph: 1}},
	}}
	assert.Contains(t, err.Error(), "invariant violation")
	assert.Contains(t, err.Error(), "1 containment count mismatches")
}

func TestAssociatorContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := New()
	_, err := a.RegisterImage(ctx, testImage("i1", 0, 0, 1, 1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, a.HasImage("i1"))
}
