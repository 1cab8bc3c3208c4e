package geoset

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/geoset/resource"
	"github.com/hupe1980/geoset/wal"
)

// Commit makes the current state durable: it writes a snapshot container
// under the next version name, records it in a new manifest, swaps the
// CURRENT pointer and truncates the journal entries the snapshot covers.
//
// A crash at any point leaves the dataset openable: before the CURRENT swap
// the old version stays active, and after it any journal entries the
// snapshot already covers replay as no-ops.
func (a *Associator) Commit(ctx context.Context) error {
	start := time.Now()

	snapshot, err := a.commit(ctx)

	a.metrics.RecordCommit(time.Since(start), err)
	a.logger.LogCommit(ctx, snapshot, err)

	return err
}

func (a *Associator) commit(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Holding commitMu keeps mutations from journaling between the snapshot
	// write and the checkpoint truncation; entries the snapshot does not
	// cover must survive it.
	a.commitMu.Lock()
	defer a.commitMu.Unlock()

	if a.closed {
		return "", ErrClosed
	}
	if a.manifests == nil {
		return "", ErrNotPersistent
	}

	next := *a.cur
	snapshot := a.manifests.SnapshotName(next.ID + 1)

	wb, err := a.store.Create(ctx, snapshot)
	if err != nil {
		return snapshot, fmt.Errorf("geoset: create snapshot %s: %w", snapshot, err)
	}

	w := io.Writer(wb)
	if a.controller != nil {
		w = resource.NewRateLimitedWriter(ctx, wb, a.controller)
	}

	if err := a.eng.Save(ctx, w); err != nil {
		wb.Close()
		a.discard(ctx, snapshot)
		return snapshot, fmt.Errorf("geoset: write snapshot %s: %w", snapshot, err)
	}
	if err := wb.Close(); err != nil {
		a.discard(ctx, snapshot)
		return snapshot, fmt.Errorf("geoset: publish snapshot %s: %w", snapshot, err)
	}

	next.Snapshot = snapshot
	if w := a.journal(); w != nil {
		// The checkpoint below truncates the journal and resets its
		// sequence, so the covered position must be read first.
		next.Seq = w.LastSeq()
		next.WALID++
	}

	if err := a.manifests.Save(ctx, &next); err != nil {
		a.discard(ctx, snapshot)
		// Another writer may have committed this version first; adopt the
		// latest manifest so a retry builds on top of it.
		if cur, lerr := a.manifests.Load(ctx); lerr == nil {
			a.cur = cur
		}
		return snapshot, fmt.Errorf("geoset: save manifest: %w", err)
	}
	a.cur = &next

	if w := a.journal(); w != nil {
		if err := w.Checkpoint(); err != nil {
			return snapshot, fmt.Errorf("geoset: checkpoint journal: %w", err)
		}
	}

	return snapshot, nil
}

// discard removes a snapshot blob that will never be referenced. Best
// effort, and deliberately not bound to the commit's context so cleanup
// still runs when the commit failed through cancellation.
func (a *Associator) discard(ctx context.Context, name string) {
	_ = a.store.Delete(context.WithoutCancel(ctx), name)
}

func (a *Associator) journal() *wal.WAL {
	if a.pm == nil {
		return nil
	}
	return a.pm.WAL()
}

// SaveToWriter writes a snapshot container of the current state to w. The
// dataset itself is not committed; use Commit for that.
func (a *Associator) SaveToWriter(ctx context.Context, w io.Writer) error {
	out := w
	if a.controller != nil {
		out = resource.NewRateLimitedWriter(ctx, w, a.controller)
	}
	return translateError(a.eng.Save(ctx, out))
}

// LoadFromReader replaces the current state with the snapshot container read
// from r. Intended for restoring in-memory datasets saved with SaveToWriter.
func (a *Associator) LoadFromReader(ctx context.Context, r io.ReadSeeker) error {
	return translateError(a.eng.LoadFromReader(ctx, r))
}

// requestCheckpoint is registered as the journal's checkpoint callback. It
// only signals the worker: the journal invokes it mid-mutation, where a
// synchronous snapshot would self-deadlock on the engine lock.
func (a *Associator) requestCheckpoint() error {
	select {
	case a.checkpointCh <- struct{}{}:
	default:
		// One is already pending; it will cover this request too.
	}
	return nil
}

func (a *Associator) checkpointLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.done:
			return
		case <-a.checkpointCh:
			a.backgroundCommit()
		}
	}
}

// backgroundCommit performs an automatic checkpoint commit, competing with
// other background work through the resource controller.
func (a *Associator) backgroundCommit() {
	ctx := context.Background()

	if err := a.controller.AcquireBackground(ctx); err != nil {
		return
	}
	defer a.controller.ReleaseBackground()

	// Commit logs and records its own outcome; a failed automatic
	// checkpoint just leaves the journal to grow until the next trigger.
	_ = a.Commit(ctx)
}
