package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geoset/blobstore"
	"github.com/hupe1980/geoset/geometry"
)

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore(blobstore.NewMemoryStore(), DefaultDir)

	// 1. Load on empty -> ErrNotFound
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	// 2. Save (increments ID)
	m := &Manifest{
		SRID:  geometry.WGS84,
		Codec: "go-json",
	}
	err = store.Save(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.ID)
	assert.Equal(t, CurrentVersion, m.Version)
	assert.False(t, m.CreatedAt.IsZero())

	// 3. Load it back
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), loaded.ID)
	assert.Equal(t, geometry.WGS84, loaded.SRID)
	assert.Equal(t, "go-json", loaded.Codec)

	// 4. Save another version
	m.Snapshot = store.SnapshotName(2)
	m.Seq = 42
	err = store.Save(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), m.ID)

	latest, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest.ID)
	assert.Equal(t, uint64(42), latest.Seq)
	assert.Equal(t, ".geoset/snapshot-000002.gsnp", latest.Snapshot)

	// 5. Old versions remain loadable
	old, err := store.LoadVersion(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), old.ID)
	assert.Empty(t, old.Snapshot)

	versions, err := store.ListVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, versions)
}

func TestStore_VersionCorruption(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewStore(blobstore.NewLocalStore(dir), DefaultDir)

	err := store.Save(ctx, &Manifest{SRID: geometry.WGS84, Codec: "go-json"})
	require.NoError(t, err)

	// Find the manifest file through CURRENT
	currentContent, err := os.ReadFile(filepath.Join(dir, DefaultDir, CurrentFileName))
	require.NoError(t, err)

	manifestPath := filepath.Join(dir, DefaultDir, string(currentContent))

	data, err := os.ReadFile(manifestPath)
	require.NoError(t, err)

	var raw map[string]interface{}
	err = json.Unmarshal(data, &raw)
	require.NoError(t, err)

	// Modify version
	raw["version"] = 999
	newData, err := json.Marshal(raw)
	require.NoError(t, err)

	err = os.WriteFile(manifestPath, newData, 0o644)
	require.NoError(t, err)

	_, err = store.Load(ctx)
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestStore_DanglingCurrent(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()
	store := NewStore(bs, DefaultDir)

	// CURRENT references a manifest that does not exist
	err := bs.Put(ctx, store.CurrentName(), []byte("MANIFEST-999999.json"))
	require.NoError(t, err)

	_, err = store.Load(ctx)
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteVersion(t *testing.T) {
	ctx := context.Background()
	store := NewStore(blobstore.NewMemoryStore(), DefaultDir)

	m := &Manifest{SRID: geometry.WGS84, Codec: "go-json"}
	require.NoError(t, store.Save(ctx, m))
	require.NoError(t, store.Save(ctx, m))

	// The active version is protected
	err := store.DeleteVersion(ctx, 2)
	assert.ErrorIs(t, err, ErrVersionInUse)

	err = store.DeleteVersion(ctx, 1)
	require.NoError(t, err)

	versions, err := store.ListVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, versions)

	_, err = store.LoadVersion(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Names(t *testing.T) {
	store := NewStore(blobstore.NewMemoryStore(), DefaultDir)

	assert.Equal(t, ".geoset/MANIFEST-000007.json", store.ManifestName(7))
	assert.Equal(t, ".geoset/snapshot-000007.gsnp", store.SnapshotName(7))
	assert.Equal(t, ".geoset/CURRENT", store.CurrentName())
}

// conditionalStore simulates a backend with conditional writes, like S3
// directory buckets.
type conditionalStore struct {
	*blobstore.MemoryStore
	conflicts map[string]bool
}

var errConditionFailed = errors.New("precondition failed")

func (s *conditionalStore) PutIfNotExists(ctx context.Context, name string, data []byte) error {
	if s.conflicts[name] {
		return errConditionFailed
	}

	s.conflicts[name] = true

	return s.MemoryStore.Put(ctx, name, data)
}

func TestStore_ConditionalPut(t *testing.T) {
	ctx := context.Background()
	backend := &conditionalStore{
		MemoryStore: blobstore.NewMemoryStore(),
		conflicts:   make(map[string]bool),
	}

	writer1 := NewStore(backend, DefaultDir)
	writer2 := NewStore(backend, DefaultDir)

	err := writer1.Save(ctx, &Manifest{SRID: geometry.WGS84, Codec: "go-json"})
	require.NoError(t, err)

	// A second writer racing toward the same version loses
	err = writer2.Save(ctx, &Manifest{SRID: geometry.WGS84, Codec: "go-json"})
	assert.Error(t, err)
	assert.ErrorIs(t, err, errConditionFailed)

	// The first writer's manifest is untouched
	m, err := writer1.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.ID)
}
