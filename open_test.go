package geoset_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geoset"
	"github.com/hupe1980/geoset/attr"
	"github.com/hupe1980/geoset/blobstore"
	"github.com/hupe1980/geoset/codec"
	"github.com/hupe1980/geoset/geometry"
	"github.com/hupe1980/geoset/manifest"
	"github.com/hupe1980/geoset/table"
	"github.com/hupe1980/geoset/wal"
)

func fieldPolygon(id string, minX, minY, maxX, maxY float64) table.PolygonRecord {
	return table.PolygonRecord{
		ID:       id,
		Boundary: geometry.Rect(geometry.WGS84, minX, minY, maxX, maxY),
		Classes:  []string{"field"},
	}
}

func sceneImage(name string, minX, minY, maxX, maxY float64) table.ImageRecord {
	return table.ImageRecord{
		Name:      name,
		Footprint: geometry.Rect(geometry.WGS84, minX, minY, maxX, maxY),
	}
}

// TestOpenCommitReopen walks the full local lifecycle: create, mutate,
// commit, reopen from the snapshot.
func TestOpenCommitReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := geoset.Open(ctx, dir)
	require.NoError(t, err)

	_, err = a.RegisterPolygon(ctx, fieldPolygon("p1", 0, 0, 10, 10))
	require.NoError(t, err)
	_, err = a.RegisterImage(ctx, sceneImage("i1", 0, 0, 20, 20))
	require.NoError(t, err)
	require.NoError(t, a.UpdateImageStatus(ctx, "i1", table.StatusDownloaded))
	require.NoError(t, a.SaveFilter("all", attr.NewFilterSet()))

	require.NoError(t, a.Commit(ctx))
	require.NoError(t, a.Close())

	// The dataset directory carries the standard layout.
	_, err = os.Stat(filepath.Join(dir, manifest.DefaultDir, "CURRENT"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, manifest.DefaultDir, "snapshot-000002.gsnp"))
	require.NoError(t, err)

	b, err := geoset.Open(ctx, dir)
	require.NoError(t, err)
	defer b.Close()

	rec, err := b.Image(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, table.StatusDownloaded, rec.Status)

	n, err := b.ImageCount(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := b.SavedFilter("all")
	assert.True(t, ok)

	report, err := b.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), report.String())
}

// TestOpenJournalReplay reopens a dataset that was never committed; every
// mutation must come back from the journal alone.
func TestOpenJournalReplay(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := geoset.Open(ctx, dir)
	require.NoError(t, err)

	_, err = a.RegisterPolygon(ctx, fieldPolygon("p1", 0, 0, 10, 10))
	require.NoError(t, err)
	_, err = a.RegisterImage(ctx, sceneImage("i1", 0, 0, 20, 20))
	require.NoError(t, err)
	_, err = a.RegisterImage(ctx, sceneImage("i2", 1, 1, 2, 2))
	require.NoError(t, err)
	require.NoError(t, a.RemoveImage(ctx, "i2"))
	require.NoError(t, a.UpdateImageStatus(ctx, "i1", table.StatusProcessed))
	require.NoError(t, a.Close())

	b, err := geoset.Open(ctx, dir)
	require.NoError(t, err)

	assert.Equal(t, 1, b.Stats().Images)
	assert.False(t, b.HasImage("i2"))

	rec, err := b.Image(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, table.StatusProcessed, rec.Status)

	n, err := b.ImageCount(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A second session appends to the same journal.
	_, err = b.RegisterImage(ctx, sceneImage("i3", 2, 2, 3, 3))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	c, err := geoset.Open(ctx, dir)
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, c.HasImage("i1"))
	assert.True(t, c.HasImage("i3"))

	report, err := c.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), report.String())
}

// TestOpenTornJournalTail simulates a crash mid-append: the journal loses
// the tail of its final entry. Reopen must recover every committed operation
// before it and stay writable.
func TestOpenTornJournalTail(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := geoset.Open(ctx, dir)
	require.NoError(t, err)

	_, err = a.RegisterPolygon(ctx, fieldPolygon("p1", 0, 0, 10, 10))
	require.NoError(t, err)
	_, err = a.RegisterImage(ctx, sceneImage("i1", 0, 0, 20, 20))
	require.NoError(t, err)
	require.NoError(t, a.UpdateImageStatus(ctx, "i1", table.StatusProcessed))
	require.NoError(t, a.Close())

	// Cut into the status update's commit entry.
	walPath := filepath.Join(dir, manifest.DefaultDir, "wal", wal.FileName)
	info, err := os.Stat(walPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(walPath, info.Size()-5))

	b, err := geoset.Open(ctx, dir)
	require.NoError(t, err)

	// The registers survive; the torn status update was never acknowledged.
	assert.True(t, b.HasImage("i1"))
	rec, err := b.Image(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, table.StatusPending, rec.Status)

	n, err := b.ImageCount(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The repaired journal keeps accepting and replaying mutations.
	_, err = b.RegisterImage(ctx, sceneImage("i2", 0, 0, 30, 30))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	c, err := geoset.Open(ctx, dir)
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, c.HasImage("i2"))
	n, err = c.ImageCount(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	report, err := c.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), report.String())
}

// TestOpenCommitThenMutate covers the mixed case: a snapshot plus journal
// entries written after it.
func TestOpenCommitThenMutate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := geoset.Open(ctx, dir)
	require.NoError(t, err)

	_, err = a.RegisterPolygon(ctx, fieldPolygon("p1", 0, 0, 10, 10))
	require.NoError(t, err)
	require.NoError(t, a.Commit(ctx))

	_, err = a.RegisterImage(ctx, sceneImage("i1", 0, 0, 20, 20))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := geoset.Open(ctx, dir)
	require.NoError(t, err)
	defer b.Close()

	assert.True(t, b.HasPolygon("p1"))
	assert.True(t, b.HasImage("i1"))

	n, err := b.ImageCount(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestOpenParameterPinning verifies that the first opener fixes SRID and
// codec for the dataset's lifetime.
func TestOpenParameterPinning(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := geoset.Open(ctx, dir, geoset.WithSRID(3857))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	// Opening without options adopts the recorded system.
	b, err := geoset.Open(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, geometry.SRID(3857), b.SRID())
	require.NoError(t, b.Close())

	// Asking for a different one is refused.
	_, err = geoset.Open(ctx, dir, geoset.WithSRID(geometry.WGS84))
	var mismatch *geoset.ErrCRSMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, geometry.SRID(3857), mismatch.Want)
	assert.Equal(t, geometry.WGS84, mismatch.Got)

	// Same for a codec that disagrees with the recorded one.
	_, err = geoset.Open(ctx, dir, geoset.WithCodec(codec.JSON{}))
	require.ErrorContains(t, err, "codec")
}

// TestOpenStoreLifecycle exercises the journal-less object store flavor:
// durability happens only at Commit.
func TestOpenStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	a, err := geoset.OpenStore(ctx, store, geoset.WithSRID(3857))
	require.NoError(t, err)

	rec := table.PolygonRecord{
		ID:       "p1",
		Boundary: geometry.Rect(3857, 0, 0, 10, 10),
		Classes:  []string{"field"},
	}
	_, err = a.RegisterPolygon(ctx, rec)
	require.NoError(t, err)

	img := table.ImageRecord{
		Name:      "i1",
		Footprint: geometry.Rect(3857, 0, 0, 20, 20),
	}
	_, err = a.RegisterImage(ctx, img)
	require.NoError(t, err)

	require.NoError(t, a.Commit(ctx))

	// Mutations after the commit are lost without another one.
	_, err = a.RegisterImage(ctx, table.ImageRecord{
		Name:      "i2",
		Footprint: geometry.Rect(3857, 1, 1, 2, 2),
	})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := geoset.OpenStore(ctx, store)
	require.NoError(t, err)
	defer b.Close()

	// Parameters were pinned by the first opener.
	assert.Equal(t, geometry.SRID(3857), b.SRID())

	assert.True(t, b.HasImage("i1"))
	assert.False(t, b.HasImage("i2"))

	n, err := b.ImageCount(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestOpenStoreUncommittedEmpty reopens a store dataset that never committed;
// only the pinned parameters survive.
func TestOpenStoreUncommittedEmpty(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	a, err := geoset.OpenStore(ctx, store)
	require.NoError(t, err)
	_, err = a.RegisterImage(ctx, sceneImage("i1", 0, 0, 1, 1))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := geoset.OpenStore(ctx, store)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, 0, b.Stats().Images)
	assert.Equal(t, geometry.WGS84, b.SRID())
}

// TestAutoCheckpoint configures an operation threshold and waits for the
// background worker to cut a snapshot on its own.
func TestAutoCheckpoint(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := geoset.Open(ctx, dir, geoset.WithWALOptions(func(o *wal.Options) {
		o.AutoCheckpointOps = 4
	}))
	require.NoError(t, err)

	_, err = a.RegisterPolygon(ctx, fieldPolygon("p1", 0, 0, 10, 10))
	require.NoError(t, err)
	for _, name := range []string{"i1", "i2", "i3", "i4", "i5"} {
		_, err = a.RegisterImage(ctx, sceneImage(name, 0, 0, 20, 20))
		require.NoError(t, err)
	}

	manifests := manifest.NewStore(blobstore.NewLocalStore(dir), manifest.DefaultDir)
	assert.Eventually(t, func() bool {
		m, err := manifests.Load(ctx)
		return err == nil && m.Snapshot != ""
	}, 5*time.Second, 20*time.Millisecond, "no automatic snapshot appeared")

	require.NoError(t, a.Close())

	b, err := geoset.Open(ctx, dir)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, 5, b.Stats().Images)

	n, err := b.ImageCount(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

// TestCloseIdempotent verifies that Close can be called repeatedly and that
// a closed dataset refuses mutations.
func TestCloseIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := geoset.Open(ctx, dir)
	require.NoError(t, err)

	_, err = a.RegisterImage(ctx, sceneImage("i1", 0, 0, 1, 1))
	require.NoError(t, err)

	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())

	_, err = a.RegisterImage(ctx, sceneImage("i2", 0, 0, 1, 1))
	assert.ErrorIs(t, err, geoset.ErrClosed)
	assert.ErrorIs(t, a.Commit(ctx), geoset.ErrClosed)
}

// TestOpenConcurrentMutations runs registrations from several goroutines
// against a journaled dataset and checks the result is consistent.
// TestOpenCommitDuringMutations interleaves commits with concurrent
// registrations. Every acknowledged registration must survive a reopen no
// matter where the snapshot boundary fell; a registration journaled while a
// commit is in flight must not be truncated away with the covered entries.
func TestOpenCommitDuringMutations(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := geoset.Open(ctx, dir)
	require.NoError(t, err)

	_, err = a.RegisterPolygon(ctx, fieldPolygon("p1", 0, 0, 10, 10))
	require.NoError(t, err)

	done := make(chan error)
	for g := 0; g < 4; g++ {
		go func(g int) {
			var firstErr error
			for i := 0; i < 25; i++ {
				name := fmt.Sprintf("scene-%d-%d", g, i)
				if _, err := a.RegisterImage(ctx, sceneImage(name, 0, 0, 20, 20)); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			done <- firstErr
		}(g)
	}

	commits := make(chan error)
	go func() {
		var firstErr error
		for i := 0; i < 5; i++ {
			if err := a.Commit(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		commits <- firstErr
	}()

	for g := 0; g < 4; g++ {
		require.NoError(t, <-done)
	}
	require.NoError(t, <-commits)
	require.NoError(t, a.Close())

	b, err := geoset.Open(ctx, dir)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, 100, b.Stats().Images)

	n, err := b.ImageCount(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	report, err := b.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), report.String())
}

func TestOpenConcurrentMutations(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := geoset.Open(ctx, dir)
	require.NoError(t, err)

	_, err = a.RegisterPolygon(ctx, fieldPolygon("p1", 0, 0, 10, 10))
	require.NoError(t, err)

	done := make(chan error)
	for g := 0; g < 4; g++ {
		go func(g int) {
			var firstErr error
			for i := 0; i < 25; i++ {
				name := fmt.Sprintf("scene-%d-%d", g, i%10)
				_, err := a.RegisterImage(ctx, sceneImage(name, 0, 0, 20, 20))
				if err != nil && firstErr == nil {
					firstErr = err
				}
			}
			done <- firstErr
		}(g)
	}
	for g := 0; g < 4; g++ {
		require.NoError(t, <-done)
	}

	// 4 goroutines, 10 distinct names each.
	assert.Equal(t, 40, a.Stats().Images)

	report, err := a.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), report.String())

	require.NoError(t, a.Close())

	b, err := geoset.Open(ctx, dir)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, 40, b.Stats().Images)
}
