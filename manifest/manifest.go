package manifest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/geoset/blobstore"
	"github.com/hupe1980/geoset/codec"
	"github.com/hupe1980/geoset/geometry"
)

const (
	// ManifestFileName is the base name for versioned manifest files.
	ManifestFileName = "MANIFEST"

	// CurrentFileName is the name of the pointer file that references the
	// active manifest.
	CurrentFileName = "CURRENT"

	// CurrentVersion is the manifest format version written by this package.
	CurrentVersion = 1

	// DefaultDir is the directory inside a dataset root that holds the
	// manifest, snapshots and journal.
	DefaultDir = ".geoset"

	manifestExt = ".json"
	snapshotExt = ".gsnp"
)

// Manifest records everything needed to open a dataset: the active snapshot,
// the journal position it covers, and the parameters all writers must agree
// with.
type Manifest struct {
	// Version is the manifest format version.
	Version int `json:"version"`

	// ID is the manifest version ID. Save increments it.
	ID uint64 `json:"id"`

	// CreatedAt is when this manifest version was written.
	CreatedAt time.Time `json:"created_at"`

	// SRID is the spatial reference system shared by all geometries in the
	// dataset.
	SRID geometry.SRID `json:"srid"`

	// Codec is the name of the codec used for snapshot and journal payloads.
	Codec string `json:"codec"`

	// Snapshot is the blob name of the active snapshot container, relative
	// to the dataset root. Empty until the first checkpoint.
	Snapshot string `json:"snapshot,omitempty"`

	// WALID is the journal generation in effect when the snapshot was cut.
	// Zero for datasets on object stores, which carry no journal.
	WALID uint64 `json:"wal_id,omitempty"`

	// Seq is the last journal sequence number the snapshot covers. Replay
	// resumes after it.
	Seq uint64 `json:"seq"`
}

// Store persists manifests through a blob store.
type Store struct {
	mu    sync.Mutex
	store blobstore.BlobStore
	dir   string
}

// NewStore creates a manifest store that keeps its files under dir inside
// the given blob store. Pass DefaultDir for the standard dataset layout.
func NewStore(store blobstore.BlobStore, dir string) *Store {
	return &Store{store: store, dir: dir}
}

// ManifestName returns the blob name of the manifest with the given ID,
// relative to the dataset root.
func (s *Store) ManifestName(id uint64) string {
	return path.Join(s.dir, fmt.Sprintf("%s-%06d%s", ManifestFileName, id, manifestExt))
}

// SnapshotName returns the blob name of the snapshot container with the
// given ID, relative to the dataset root.
func (s *Store) SnapshotName(id uint64) string {
	return path.Join(s.dir, fmt.Sprintf("snapshot-%06d%s", id, snapshotExt))
}

// CurrentName returns the blob name of the CURRENT pointer file.
func (s *Store) CurrentName() string {
	return path.Join(s.dir, CurrentFileName)
}

// Load returns the manifest referenced by CURRENT.
//
// It returns ErrNotFound when the dataset has no manifest yet.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load(ctx, 0)
}

// LoadVersion returns the manifest with the given version ID. ID 0 loads
// the manifest referenced by CURRENT.
func (s *Store) LoadVersion(ctx context.Context, id uint64) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load(ctx, id)
}

func (s *Store) load(ctx context.Context, id uint64) (*Manifest, error) {
	var name string

	if id == 0 {
		current, err := blobstore.ReadAll(ctx, s.store, s.CurrentName())
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil, ErrNotFound
			}

			return nil, fmt.Errorf("read %s: %w", CurrentFileName, err)
		}

		name = path.Join(s.dir, strings.TrimSpace(string(current)))
	} else {
		name = s.ManifestName(id)
	}

	data, err := blobstore.ReadAll(ctx, s.store, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}

		return nil, fmt.Errorf("read manifest %s: %w", name, err)
	}

	var m Manifest
	if err := codec.Default.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", name, err)
	}

	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, m.Version, CurrentVersion)
	}

	return &m, nil
}

// Save writes m as a new manifest version and repoints CURRENT at it.
//
// The version ID is incremented and CreatedAt is refreshed before writing.
// The manifest file is created under a fresh versioned name first; CURRENT
// is replaced only after that write succeeds.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Version = CurrentVersion
	m.ID++
	m.CreatedAt = time.Now().UTC()

	data, err := codec.Default.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	name := s.ManifestName(m.ID)

	// Versioned names are never reused, so on stores with conditional
	// writes a conflict means another writer committed this version first.
	if cp, ok := s.store.(blobstore.ConditionalPutter); ok {
		err = cp.PutIfNotExists(ctx, name, data)
	} else {
		err = s.store.Put(ctx, name, data)
	}

	if err != nil {
		return fmt.Errorf("write manifest %s: %w", name, err)
	}

	if err := s.store.Put(ctx, s.CurrentName(), []byte(path.Base(name))); err != nil {
		return fmt.Errorf("update %s: %w", CurrentFileName, err)
	}

	return nil
}

// ListVersions returns the IDs of all retained manifest versions, oldest
// first. Files under the manifest prefix that do not parse as manifest
// names are skipped.
func (s *Store) ListVersions(ctx context.Context) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.store.List(ctx, path.Join(s.dir, ManifestFileName+"-"))
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}

	versions := make([]uint64, 0, len(names))

	for _, name := range names {
		base := path.Base(name)

		idStr := strings.TrimSuffix(strings.TrimPrefix(base, ManifestFileName+"-"), manifestExt)
		if idStr == base || !strings.HasSuffix(base, manifestExt) {
			continue
		}

		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			continue
		}

		versions = append(versions, id)
	}

	return versions, nil
}

// DeleteVersion removes the manifest file with the given version ID. It
// refuses to delete the version CURRENT points at.
func (s *Store) DeleteVersion(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(ctx, 0)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	if err == nil && current.ID == id {
		return fmt.Errorf("%w: %06d", ErrVersionInUse, id)
	}

	return s.store.Delete(ctx, s.ManifestName(id))
}
