package geoset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hupe1980/geoset/blobstore"
	"github.com/hupe1980/geoset/codec"
	"github.com/hupe1980/geoset/geometry"
	"github.com/hupe1980/geoset/manifest"
	"github.com/hupe1980/geoset/persistence"
)

// Open opens the dataset rooted at dir, creating it if the directory holds
// none. Local datasets journal every mutation; recovery loads the snapshot
// referenced by the manifest and replays the journal entries it does not
// cover.
//
// A dataset directory must be used by one process at a time.
func Open(ctx context.Context, dir string, optFns ...Option) (*Associator, error) {
	o := applyOptions(optFns)

	store := blobstore.NewLocalStore(dir)
	manifests := manifest.NewStore(store, manifest.DefaultDir)

	m, err := resolveManifest(ctx, manifests, &o)
	if err != nil {
		return nil, err
	}

	snapshotPath := ""
	if m.Snapshot != "" {
		snapshotPath = filepath.Join(dir, filepath.FromSlash(m.Snapshot))
	}

	pm, err := persistence.NewManager(persistence.ManagerOptions{
		SnapshotPath: snapshotPath,
		WALPath:      filepath.Join(dir, manifest.DefaultDir, "wal"),
		WALOptions:   o.walOptions,
		Codec:        o.codec,
	})
	if err != nil {
		return nil, fmt.Errorf("geoset: open journal: %w", err)
	}

	a := newAssociator(o, pm.WAL())
	a.store = store
	a.manifests = manifests
	a.pm = pm
	a.cur = m

	err = pm.Recover(ctx, a.eng, a.eng)
	a.logger.LogRecovery(ctx, m.Snapshot, err)
	if err != nil {
		pm.Close()
		return nil, fmt.Errorf("geoset: recover dataset: %w", err)
	}

	// The journal signals checkpoints when its thresholds trip; an actual
	// commit must not run on the mutating goroutine, so a worker picks the
	// signal up.
	a.checkpointCh = make(chan struct{}, 1)
	a.done = make(chan struct{})
	pm.SetCheckpointCallback(a.requestCheckpoint)
	a.wg.Add(1)
	go a.checkpointLoop()

	return a, nil
}

// OpenStore opens a dataset kept in an arbitrary blob store (object storage,
// in-memory), creating it if the store holds none. Store datasets carry no
// journal: mutations become durable only at Commit.
//
// On backends with conditional writes (s3.CommitStore, s3.ExpressStore) the
// manifest swap is compare-and-swap, so concurrent writers cannot clobber
// each other's commits.
func OpenStore(ctx context.Context, store blobstore.BlobStore, optFns ...Option) (*Associator, error) {
	o := applyOptions(optFns)

	manifests := manifest.NewStore(store, manifest.DefaultDir)

	m, err := resolveManifest(ctx, manifests, &o)
	if err != nil {
		return nil, err
	}

	a := newAssociator(o, nil)
	a.store = store
	a.manifests = manifests
	a.cur = m

	if m.Snapshot != "" {
		data, err := blobstore.ReadAll(ctx, store, m.Snapshot)
		if err == nil {
			err = a.eng.LoadFromReader(ctx, bytes.NewReader(data))
		}
		a.logger.LogRecovery(ctx, m.Snapshot, err)
		if err != nil {
			return nil, fmt.Errorf("geoset: load snapshot %s: %w", m.Snapshot, err)
		}
	}

	return a, nil
}

// resolveManifest loads the dataset manifest and reconciles it with the
// caller's options, or initializes a fresh one when the dataset does not
// exist yet. The resolved SRID and codec are written back into o.
func resolveManifest(ctx context.Context, manifests *manifest.Store, o *options) (*manifest.Manifest, error) {
	m, err := manifests.Load(ctx)

	switch {
	case err == nil:
		if o.srid != 0 && o.srid != m.SRID {
			return nil, &ErrCRSMismatch{Want: m.SRID, Got: o.srid}
		}
		o.srid = m.SRID

		if o.codec == nil {
			c, ok := codec.ByName(m.Codec)
			if !ok {
				return nil, fmt.Errorf("geoset: manifest codec %q is not registered", m.Codec)
			}
			o.codec = c
		} else if o.codec.Name() != m.Codec {
			return nil, fmt.Errorf("geoset: dataset uses codec %q, not %q", m.Codec, o.codec.Name())
		}

		return m, nil

	case errors.Is(err, manifest.ErrNotFound):
		if o.srid == 0 {
			o.srid = geometry.WGS84
		}
		if o.codec == nil {
			o.codec = codec.Default
		}

		// Pin the dataset parameters immediately so a second opener agrees
		// with them even before the first commit.
		m := &manifest.Manifest{
			SRID:  o.srid,
			Codec: o.codec.Name(),
		}
		if err := manifests.Save(ctx, m); err != nil {
			return nil, fmt.Errorf("geoset: initialize dataset: %w", err)
		}

		return m, nil

	default:
		return nil, fmt.Errorf("geoset: load manifest: %w", err)
	}
}
