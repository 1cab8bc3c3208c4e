package wal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWAL(t *testing.T) {
	dir := t.TempDir()

	w, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}
	defer w.Close()

	if err := w.Log(OpRegisterImage, "S2A_tile_0001", encodePayload(t, map[string]string{"name": "S2A_tile_0001"})); err != nil {
		t.Fatalf("Log register image failed: %v", err)
	}

	if err := w.Log(OpSetImageStatus, "S2A_tile_0001", encodePayload(t, "downloaded")); err != nil {
		t.Fatalf("Log status failed: %v", err)
	}

	if err := w.Log(OpRemoveImage, "S2A_tile_0001", nil); err != nil {
		t.Fatalf("Log remove failed: %v", err)
	}

	count, err := w.Len()
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	// Each operation is written as prepare+commit.
	if count != 6 {
		t.Errorf("Expected 6 entries, got %d", count)
	}
}

func TestWALReplay(t *testing.T) {
	dir := t.TempDir()

	w, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}

	operations := []struct {
		op   OperationType
		key  string
		data string
	}{
		{OpRegisterImage, "tile-a", "record-a"},
		{OpRegisterPolygon, "field-1", "record-1"},
		{OpRemoveImage, "tile-a", ""},
	}

	for _, op := range operations {
		var data []byte
		if op.data != "" {
			data = encodePayload(t, op.data)
		}
		if err := w.Log(op.op, op.key, data); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	w.Close()

	// Reopen and replay
	w, err = New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to reopen WAL: %v", err)
	}
	defer w.Close()

	var replayed []Entry
	err = w.ReplayCommitted(func(entry Entry) error {
		replayed = append(replayed, entry)
		return nil
	})
	if err != nil {
		t.Fatalf("ReplayCommitted failed: %v", err)
	}

	if len(replayed) != 3 {
		t.Fatalf("Expected 3 replayed entries, got %d", len(replayed))
	}

	for i, entry := range replayed {
		if entry.Type != operations[i].op {
			t.Errorf("Entry %d: expected type %v, got %v", i, operations[i].op, entry.Type)
		}
		if entry.Key != operations[i].key {
			t.Errorf("Entry %d: expected key %q, got %q", i, operations[i].key, entry.Key)
		}
	}
}

func TestWALReplayCommittedIgnoresUncommittedPrepares(t *testing.T) {
	dir := t.TempDir()

	w, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}

	// Prepare without commit (should be ignored).
	if err := w.LogPrepare(OpRegisterImage, "tile-a", encodePayload(t, "record-a")); err != nil {
		t.Fatalf("LogPrepare failed: %v", err)
	}

	// Prepare + commit (should be applied).
	if err := w.LogPrepare(OpRegisterImage, "tile-b", encodePayload(t, "record-b")); err != nil {
		t.Fatalf("LogPrepare failed: %v", err)
	}
	if err := w.LogCommit(OpRegisterImage, "tile-b"); err != nil {
		t.Fatalf("LogCommit failed: %v", err)
	}

	_ = w.Close()

	w, err = New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to reopen WAL: %v", err)
	}
	defer w.Close()

	var replayed []Entry
	err = w.ReplayCommitted(func(entry Entry) error {
		replayed = append(replayed, entry)
		return nil
	})
	if err != nil {
		t.Fatalf("ReplayCommitted failed: %v", err)
	}

	if len(replayed) != 1 {
		t.Fatalf("Expected 1 committed entry, got %d", len(replayed))
	}
	if replayed[0].Type != OpRegisterImage {
		t.Fatalf("Expected OpRegisterImage, got %v", replayed[0].Type)
	}
	if replayed[0].Key != "tile-b" {
		t.Fatalf("Expected key tile-b, got %q", replayed[0].Key)
	}
}

func TestWALBatch(t *testing.T) {
	dir := t.TempDir()

	w, err := New(func(o *Options) {
		o.Path = dir
		o.DurabilityMode = DurabilityAsync
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}
	defer w.Close()

	records := []Record{
		{Op: OpRegisterImage, Key: "tile-a", Data: encodePayload(t, "a")},
		{Op: OpRegisterImage, Key: "tile-b", Data: encodePayload(t, "b")},
		{Op: OpRegisterPolygon, Key: "field-1", Data: encodePayload(t, "1")},
	}

	if err := w.LogBatch(records); err != nil {
		t.Fatalf("LogBatch failed: %v", err)
	}

	count, _ := w.Len()
	if count != 6 {
		t.Errorf("Expected 6 entries, got %d", count)
	}

	var replayed []Entry
	err = w.ReplayCommitted(func(entry Entry) error {
		replayed = append(replayed, entry)
		return nil
	})
	if err != nil {
		t.Fatalf("ReplayCommitted failed: %v", err)
	}

	if len(replayed) != len(records) {
		t.Fatalf("Expected %d replayed entries, got %d", len(records), len(replayed))
	}
	for i, entry := range replayed {
		if entry.Type != records[i].Op || entry.Key != records[i].Key {
			t.Errorf("Entry %d: got (%v, %q), want (%v, %q)", i, entry.Type, entry.Key, records[i].Op, records[i].Key)
		}
	}
}

func TestWALCheckpoint(t *testing.T) {
	dir := t.TempDir()

	w, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}
	defer w.Close()

	for i := 0; i < 5; i++ {
		if err := w.Log(OpRegisterPolygon, "field", encodePayload(t, "data")); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	count, _ := w.Len()
	// Each operation is written as prepare+commit.
	if count != 10 {
		t.Errorf("Expected 10 entries before checkpoint, got %d", count)
	}

	if err := w.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}

	count, _ = w.Len()
	if count != 0 {
		t.Errorf("Expected 0 entries after checkpoint, got %d", count)
	}

	if err := w.Log(OpRegisterPolygon, "field-2", encodePayload(t, "data")); err != nil {
		t.Fatalf("Log after checkpoint failed: %v", err)
	}

	count, _ = w.Len()
	if count != 2 {
		t.Errorf("Expected 2 entries after checkpoint, got %d", count)
	}
}

func TestWALReplayAfterInterruptedCheckpoint(t *testing.T) {
	dir := t.TempDir()

	w, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}

	if err := w.Log(OpRegisterImage, "tile-a", encodePayload(t, "record-a")); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := w.Log(OpRegisterPolygon, "field-1", encodePayload(t, "record-1")); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	// Append the checkpoint marker without the truncation that normally
	// follows, as after a crash between the marker fsync and the truncate.
	w.mu.Lock()
	w.seqNum++
	marker := Entry{Type: OpCheckpoint, SeqNum: w.seqNum}
	if err := w.encodeEntry(&marker); err != nil {
		w.mu.Unlock()
		t.Fatalf("Failed to encode marker: %v", err)
	}
	if err := w.flushLocked(); err != nil {
		w.mu.Unlock()
		t.Fatalf("Failed to flush marker: %v", err)
	}
	w.mu.Unlock()

	w.Close()

	// The next session appends past the surviving marker.
	w, err = New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to reopen WAL: %v", err)
	}
	defer w.Close()

	if got := w.LastSeq(); got != 5 {
		t.Fatalf("Expected scan to resume at seq 5, got %d", got)
	}

	if err := w.Log(OpSetImageStatus, "tile-a", encodePayload(t, "downloaded")); err != nil {
		t.Fatalf("Log after reopen failed: %v", err)
	}

	var replayed []Entry
	err = w.ReplayCommitted(func(entry Entry) error {
		replayed = append(replayed, entry)
		return nil
	})
	if err != nil {
		t.Fatalf("ReplayCommitted failed: %v", err)
	}

	// The two operations before the marker are covered by the snapshot that
	// wrote it and replay as no-ops downstream; the one after it must not be
	// lost.
	want := []struct {
		op  OperationType
		key string
	}{
		{OpRegisterImage, "tile-a"},
		{OpRegisterPolygon, "field-1"},
		{OpSetImageStatus, "tile-a"},
	}
	if len(replayed) != len(want) {
		t.Fatalf("Expected %d replayed entries, got %d", len(want), len(replayed))
	}
	for i, entry := range replayed {
		if entry.Type != want[i].op || entry.Key != want[i].key {
			t.Errorf("Entry %d: got (%v, %q), want (%v, %q)", i, entry.Type, entry.Key, want[i].op, want[i].key)
		}
	}
}

func TestWALCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, FileName)

	w, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}

	if err := w.Log(OpRegisterImage, "tile-a", encodePayload(t, "data")); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	w.Close()

	// Truncate the file to corrupt the trailing entry.
	f, err := os.OpenFile(walPath, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	stat, _ := f.Stat()
	f.Truncate(stat.Size() - 5)
	f.Close()

	w, err = New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to reopen WAL: %v", err)
	}
	defer w.Close()

	// The torn commit means the prepared operation must not be applied.
	replayed := 0
	err = w.ReplayCommitted(func(entry Entry) error {
		replayed++
		return nil
	})
	if err == nil && replayed != 0 {
		t.Errorf("Expected no replayed entries from torn log, got %d", replayed)
	}
}

func TestWALSequenceNumbers(t *testing.T) {
	dir := t.TempDir()

	w, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}
	defer w.Close()

	for i := 0; i < 3; i++ {
		if err := w.Log(OpRegisterImage, "tile", encodePayload(t, "data")); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	var replayed []uint64
	err = w.ReplayCommitted(func(entry Entry) error {
		replayed = append(replayed, entry.SeqNum)
		return nil
	})
	if err != nil {
		t.Fatalf("ReplayCommitted failed: %v", err)
	}

	if len(replayed) != 3 {
		t.Fatalf("Expected 3 committed ops, got %d", len(replayed))
	}

	// Each operation produces a prepare then a commit; ReplayCommitted
	// reports commit sequence numbers (2, 4, 6, ...).
	for i, seqNum := range replayed {
		expected := uint64((i + 1) * 2)
		if seqNum != expected {
			t.Errorf("Entry %d: expected seq %d, got %d", i, expected, seqNum)
		}
	}
}

func TestWALRejectsNonLogicalOps(t *testing.T) {
	dir := t.TempDir()

	w, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}
	defer w.Close()

	if err := w.Log(OpCheckpoint, "", nil); err == nil {
		t.Error("Expected error logging OpCheckpoint directly")
	}
	if err := w.Log(OpPrepareRegisterImage, "tile", nil); err == nil {
		t.Error("Expected error logging a prepare type directly")
	}
	if err := w.LogPrepare(OpCommitRemoveImage, "tile", nil); err == nil {
		t.Error("Expected error preparing a commit type")
	}
	if err := w.LogBatch([]Record{{Op: OpCheckpoint}}); err == nil {
		t.Error("Expected error batching OpCheckpoint")
	}
}

func encodePayload(t *testing.T, data any) []byte {
	t.Helper()
	b, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("Failed to encode payload: %v", err)
	}
	return b
}

func TestWALCompression(t *testing.T) {
	dir := t.TempDir()

	walCompressed, err := New(func(o *Options) {
		o.Path = filepath.Join(dir, "compressed")
		o.Compress = true
		o.CompressionLevel = 3
		o.DurabilityMode = DurabilityAsync
	})
	if err != nil {
		t.Fatalf("Failed to create compressed WAL: %v", err)
	}
	defer walCompressed.Close()

	walUncompressed, err := New(func(o *Options) {
		o.Path = filepath.Join(dir, "uncompressed")
		o.Compress = false
		o.DurabilityMode = DurabilityAsync
	})
	if err != nil {
		t.Fatalf("Failed to create uncompressed WAL: %v", err)
	}
	defer walUncompressed.Close()

	// GeoJSON-shaped payloads with plenty of repeated structure.
	const numEntries = 100
	footprint := `{"type":"Polygon","coordinates":[[[0,0],[10,0],[10,10],[0,10],[0,0]]]}`
	for i := 0; i < numEntries; i++ {
		payload := encodePayload(t, map[string]any{
			"name":      "S2A_MSIL2A_tile",
			"status":    "downloaded",
			"footprint": footprint,
		})
		key := "tile-" + string(rune('a'+i%26))

		if err := walCompressed.Log(OpRegisterImage, key, payload); err != nil {
			t.Fatalf("Compressed Log failed: %v", err)
		}
		if err := walUncompressed.Log(OpRegisterImage, key, payload); err != nil {
			t.Fatalf("Uncompressed Log failed: %v", err)
		}
	}

	walCompressed.Close()
	walUncompressed.Close()

	compressedInfo, err := os.Stat(filepath.Join(dir, "compressed", FileName))
	if err != nil {
		t.Fatalf("Failed to stat compressed WAL: %v", err)
	}
	uncompressedInfo, err := os.Stat(filepath.Join(dir, "uncompressed", FileName))
	if err != nil {
		t.Fatalf("Failed to stat uncompressed WAL: %v", err)
	}

	compressionRatio := float64(uncompressedInfo.Size()) / float64(compressedInfo.Size())

	t.Logf("Compressed size:   %d bytes", compressedInfo.Size())
	t.Logf("Uncompressed size: %d bytes", uncompressedInfo.Size())
	t.Logf("Compression ratio: %.2fx", compressionRatio)

	if compressionRatio < 1.5 {
		t.Errorf("Compression ratio too low: %.2fx (expected >= 1.5x)", compressionRatio)
	}

	// Replay from the compressed log.
	reopened, err := New(func(o *Options) {
		o.Path = filepath.Join(dir, "compressed")
	})
	if err != nil {
		t.Fatalf("Failed to reopen compressed WAL: %v", err)
	}
	defer reopened.Close()

	entriesReplayed := 0
	err = reopened.ReplayCommitted(func(entry Entry) error {
		entriesReplayed++
		return nil
	})
	if err != nil {
		t.Fatalf("ReplayCommitted failed: %v", err)
	}

	if entriesReplayed != numEntries {
		t.Errorf("Replayed %d entries, expected %d", entriesReplayed, numEntries)
	}
}

// truncateWAL chops n bytes off the log file, leaving the torn tail a crash
// mid-append would leave.
func truncateWAL(t *testing.T, dir string, n int64) {
	t.Helper()

	path := filepath.Join(dir, FileName)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat WAL: %v", err)
	}
	if err := os.Truncate(path, info.Size()-n); err != nil {
		t.Fatalf("Failed to truncate WAL: %v", err)
	}
}

func TestWALTornTailRecovery(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "Uncompressed"
		if compress {
			name = "Compressed"
		}

		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()

			w, err := New(func(o *Options) {
				o.Path = dir
				o.Compress = compress
			})
			if err != nil {
				t.Fatalf("Failed to create WAL: %v", err)
			}
			if err := w.Log(OpRegisterImage, "tile-a", encodePayload(t, "record-a")); err != nil {
				t.Fatalf("Log failed: %v", err)
			}
			if err := w.Log(OpRegisterImage, "tile-b", encodePayload(t, "record-b")); err != nil {
				t.Fatalf("Log failed: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			// Cut into tile-b's commit entry.
			truncateWAL(t, dir, 5)

			w, err = New(func(o *Options) {
				o.Path = dir
				o.Compress = compress
			})
			if err != nil {
				t.Fatalf("Failed to reopen torn WAL: %v", err)
			}

			var replayed []string
			err = w.ReplayCommitted(func(entry Entry) error {
				replayed = append(replayed, entry.Key)
				return nil
			})
			if err != nil {
				t.Fatalf("ReplayCommitted after torn tail failed: %v", err)
			}
			if len(replayed) != 1 || replayed[0] != "tile-a" {
				t.Errorf("Expected committed prefix [tile-a], got %v", replayed)
			}

			// The torn tail was dropped at open, so new entries append
			// cleanly behind the last complete one.
			if err := w.Log(OpRegisterImage, "tile-c", encodePayload(t, "record-c")); err != nil {
				t.Fatalf("Log after recovery failed: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			w, err = New(func(o *Options) {
				o.Path = dir
				o.Compress = compress
			})
			if err != nil {
				t.Fatalf("Failed to reopen repaired WAL: %v", err)
			}
			defer w.Close()

			replayed = nil
			err = w.ReplayCommitted(func(entry Entry) error {
				replayed = append(replayed, entry.Key)
				return nil
			})
			if err != nil {
				t.Fatalf("ReplayCommitted after repair failed: %v", err)
			}
			if len(replayed) != 2 || replayed[0] != "tile-a" || replayed[1] != "tile-c" {
				t.Errorf("Expected [tile-a tile-c], got %v", replayed)
			}
		})
	}
}

func TestWALCloseConcurrent(t *testing.T) {
	dir := t.TempDir()

	w, err := New(func(o *Options) {
		o.Path = dir
		o.DurabilityMode = DurabilityGroupCommit
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}
	if err := w.Log(OpRegisterImage, "tile-a", encodePayload(t, "record-a")); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Close(); err != nil {
				t.Errorf("Close failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestWALGroupCommitWithoutWorker(t *testing.T) {
	dir := t.TempDir()

	w, err := New(func(o *Options) {
		o.Path = dir
		o.DurabilityMode = DurabilityGroupCommit
		o.GroupCommitInterval = 0
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}
	defer w.Close()

	// Without a worker every commit must fsync inline instead of waiting
	// for a wakeup that would never come.
	done := make(chan error, 1)
	go func() {
		done <- w.Log(OpRegisterImage, "tile-a", encodePayload(t, "record-a"))
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Log blocked with no group commit worker running")
	}
}
