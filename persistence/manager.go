package persistence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hupe1980/geoset/codec"
	"github.com/hupe1980/geoset/wal"
)

var (
	// ErrManagerClosed is returned when operations are attempted on a closed manager.
	ErrManagerClosed = errors.New("persistence manager is closed")

	// ErrNoWAL is returned when WAL operations are attempted without WAL configured.
	ErrNoWAL = errors.New("WAL not configured")

	// ErrNoSnapshotPath is returned when snapshot operations require a path but none is set.
	ErrNoSnapshotPath = errors.New("snapshot path not configured")
)

// Snapshotable represents a component that can be saved to a snapshot.
type Snapshotable interface {
	// Save writes the component state to w.
	// The context allows cancellation of long-running snapshot operations.
	Save(ctx context.Context, w io.Writer) error
}

// SnapshotLoader can load state from a snapshot file.
type SnapshotLoader interface {
	// LoadSnapshot loads state from the given file path.
	// The context allows cancellation of long-running load operations.
	LoadSnapshot(ctx context.Context, path string) error
}

// WALReplayer can replay WAL entries to restore state.
type WALReplayer interface {
	// ReplayEntry applies a single WAL entry to restore state.
	// The context allows cancellation during long replay sequences.
	ReplayEntry(ctx context.Context, entry wal.Entry) error
}

// ManagerOptions configures the persistence manager.
type ManagerOptions struct {
	// SnapshotPath is the path for snapshot files (optional).
	SnapshotPath string

	// WALPath is the directory for WAL files (optional, enables WAL if set).
	WALPath string

	// WALOptions are additional options for WAL configuration.
	WALOptions []func(*wal.Options)

	// Codec is used for serializing snapshot data.
	Codec codec.Codec

	// AutoCheckpoint enables automatic WAL checkpointing after snapshots.
	AutoCheckpoint bool
}

// Manager coordinates all persistence operations (snapshots, WAL, recovery).
//
// It provides a unified interface for:
//   - Atomic snapshot creation with WAL coordination
//   - Unified recovery (snapshot + WAL replay)
//   - WAL lifecycle and checkpointing
//
// The Manager is thread-safe and can be used concurrently.
type Manager struct {
	snapshotPath   string
	wal            *wal.WAL
	ownsWAL        bool
	codec          codec.Codec
	autoCheckpoint bool

	mu     sync.RWMutex
	closed bool
}

// NewManager creates a new persistence manager with the given options.
//
// If WALPath is set, a new WAL is created in that directory. If SnapshotPath
// is set, snapshots are written to that path.
func NewManager(opts ManagerOptions) (*Manager, error) {
	pm := &Manager{
		snapshotPath:   opts.SnapshotPath,
		codec:          opts.Codec,
		autoCheckpoint: opts.AutoCheckpoint,
	}

	if pm.codec == nil {
		pm.codec = codec.Default
	}

	if opts.WALPath != "" {
		walOptFns := append([]func(*wal.Options){
			func(o *wal.Options) {
				o.Path = opts.WALPath
			},
		}, opts.WALOptions...)

		w, err := wal.New(walOptFns...)
		if err != nil {
			return nil, fmt.Errorf("persistence: failed to create WAL: %w", err)
		}
		pm.wal = w
		pm.ownsWAL = true
	}

	return pm, nil
}

// NewManagerWithWAL creates a manager using an existing WAL instance.
// The caller retains ownership of the WAL; Close does not close it.
func NewManagerWithWAL(snapshotPath string, w *wal.WAL, c codec.Codec) *Manager {
	if c == nil {
		c = codec.Default
	}
	return &Manager{
		snapshotPath:   snapshotPath,
		wal:            w,
		codec:          c,
		autoCheckpoint: true,
	}
}

// WAL returns the underlying WAL instance, or nil if WAL is not configured.
func (pm *Manager) WAL() *wal.WAL {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.wal
}

// SnapshotPath returns the configured snapshot path.
func (pm *Manager) SnapshotPath() string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.snapshotPath
}

// SetSnapshotPath updates the snapshot path.
func (pm *Manager) SetSnapshotPath(path string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.snapshotPath = path
}

// Codec returns the configured codec.
func (pm *Manager) Codec() codec.Codec {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.codec
}

// Snapshot saves state atomically and optionally checkpoints the WAL.
//
// The snapshot is written to a temporary file first, then atomically renamed
// to the final path. If WAL is enabled and AutoCheckpoint is set, the WAL is
// checkpointed after a successful snapshot. Callers must keep mutations out
// of the span between writeFunc and the checkpoint: an operation journaled
// there would be truncated without the snapshot covering it.
func (pm *Manager) Snapshot(ctx context.Context, writeFunc func(ctx context.Context, w io.Writer) error) error {
	pm.mu.RLock()
	if pm.closed {
		pm.mu.RUnlock()
		return ErrManagerClosed
	}
	snapshotPath := pm.snapshotPath
	w := pm.wal
	autoCheckpoint := pm.autoCheckpoint
	pm.mu.RUnlock()

	if snapshotPath == "" {
		return ErrNoSnapshotPath
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := SaveToFile(snapshotPath, func(w io.Writer) error {
		return writeFunc(ctx, w)
	}); err != nil {
		return fmt.Errorf("persistence: snapshot failed: %w", err)
	}

	// Truncate journaled operations now covered by the snapshot.
	if w != nil && autoCheckpoint {
		if err := w.Checkpoint(); err != nil {
			return fmt.Errorf("persistence: WAL checkpoint failed: %w", err)
		}
	}

	return nil
}

// SnapshotToPath saves state to a specific path (not the default snapshotPath).
// This is useful for creating named snapshots or backups.
func (pm *Manager) SnapshotToPath(ctx context.Context, path string, writeFunc func(ctx context.Context, w io.Writer) error) error {
	pm.mu.RLock()
	if pm.closed {
		pm.mu.RUnlock()
		return ErrManagerClosed
	}
	pm.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := SaveToFile(path, func(w io.Writer) error {
		return writeFunc(ctx, w)
	}); err != nil {
		return fmt.Errorf("persistence: snapshot to %s failed: %w", path, err)
	}

	return nil
}

// Recover restores state from snapshot + WAL replay.
//
// Recovery order:
//  1. Load snapshot (if one exists at snapshotPath)
//  2. Replay committed WAL entries recorded after that snapshot
//
// The loader/replayer interfaces allow customization of how state is restored.
func (pm *Manager) Recover(ctx context.Context, loader SnapshotLoader, replayer WALReplayer) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return ErrManagerClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if pm.snapshotPath != "" {
		if _, err := os.Stat(pm.snapshotPath); err == nil {
			if err := loader.LoadSnapshot(ctx, pm.snapshotPath); err != nil {
				return fmt.Errorf("persistence: snapshot load failed: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("persistence: failed to check snapshot: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if pm.wal != nil {
		if err := pm.wal.ReplayCommitted(func(entry wal.Entry) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return replayer.ReplayEntry(ctx, entry)
		}); err != nil {
			return fmt.Errorf("persistence: WAL replay failed: %w", err)
		}
	}

	return nil
}

// RecoverFromPath loads a snapshot from a specific path (ignoring snapshotPath).
// Does not replay WAL.
func (pm *Manager) RecoverFromPath(ctx context.Context, path string, loader SnapshotLoader) error {
	pm.mu.RLock()
	if pm.closed {
		pm.mu.RUnlock()
		return ErrManagerClosed
	}
	pm.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("persistence: snapshot not found at %s: %w", path, err)
	}

	if err := loader.LoadSnapshot(ctx, path); err != nil {
		return fmt.Errorf("persistence: snapshot load from %s failed: %w", path, err)
	}

	return nil
}

// Checkpoint creates a WAL checkpoint (truncates committed entries).
// This should be called after saving a snapshot through other means.
func (pm *Manager) Checkpoint() error {
	pm.mu.RLock()
	if pm.closed {
		pm.mu.RUnlock()
		return ErrManagerClosed
	}
	w := pm.wal
	pm.mu.RUnlock()

	if w == nil {
		return ErrNoWAL
	}

	return w.Checkpoint()
}

// SetCheckpointCallback sets a callback that is invoked when the WAL decides
// a checkpoint is due (auto-checkpoint thresholds).
func (pm *Manager) SetCheckpointCallback(callback func() error) {
	pm.mu.RLock()
	w := pm.wal
	pm.mu.RUnlock()

	if w != nil {
		w.SetCheckpointCallback(callback)
	}
}

// Close shuts down the persistence manager and releases resources.
// A WAL created by the manager is closed; a WAL passed in via
// NewManagerWithWAL stays open.
func (pm *Manager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return nil
	}
	pm.closed = true

	if pm.wal != nil && pm.ownsWAL {
		return pm.wal.Close()
	}
	return nil
}
