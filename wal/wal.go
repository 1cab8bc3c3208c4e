// Package wal provides write-ahead logging for durability and crash recovery.
//
// Every mutation of the dataset (register/remove/status/class operations) is
// journaled before it is applied in memory, so a crash between the last
// snapshot and the failure point is recovered by replaying the log.
//
// Features:
//   - Prepare/commit entry protocol; recovery applies only committed operations
//   - Batch logging for bulk appends with a single durability boundary
//   - Configurable fsync behavior (Async, GroupCommit, Sync)
//   - Checkpoint support for log truncation after snapshots
//   - Optional zstd compression of the entry stream
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// FileName is the name of the WAL file inside Options.Path.
const FileName = "geoset.wal"

// WAL provides write-ahead logging for durability.
type WAL struct {
	mu               sync.Mutex
	file             *os.File
	writer           io.Writer     // compressed or direct
	bufWriter        *bufio.Writer // buffered writer for performance
	compressor       *zstd.Encoder
	decompressor     *zstd.Decoder
	seqNum           uint64
	filePath         string
	compressed       bool
	compressionLevel int
	dataOffset       int64 // start of the entry stream (after the header)

	// Auto-checkpoint tracking
	autoCheckpointOps int
	autoCheckpointMB  int
	committedOps      int
	checkpointFunc    func() error

	// Group commit support (background goroutine lifecycle)
	durabilityMode      DurabilityMode
	groupCommitInterval time.Duration
	groupCommitMaxOps   int
	groupCommitTicker   *time.Ticker
	groupCommitStopCh   chan struct{}
	groupCommitPending  int // operations since last fsync
	groupCommitWg       sync.WaitGroup

	// Blocking group commit
	syncCond        *sync.Cond
	persistedSeqNum uint64 // highest sequence number persisted to disk
}

// FilePath returns the path to the WAL file.
func (w *WAL) FilePath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.filePath
}

// LastSeq returns the sequence number of the most recently appended entry.
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seqNum
}

// New creates a new WAL instance.
func New(optFns ...func(o *Options)) (*WAL, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(opts.Path, 0750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filePath := filepath.Join(opts.Path, FileName)

	// Open or create the WAL file; seeking is managed explicitly.
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0600) //nolint:gosec // G304: path is configurable
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat WAL file: %w", err)
	}

	w := &WAL{
		file:                file,
		filePath:            filePath,
		compressionLevel:    opts.CompressionLevel,
		autoCheckpointOps:   opts.AutoCheckpointOps,
		autoCheckpointMB:    opts.AutoCheckpointMB,
		durabilityMode:      opts.DurabilityMode,
		groupCommitInterval: opts.GroupCommitInterval,
		groupCommitMaxOps:   opts.GroupCommitMaxOps,
	}
	w.syncCond = sync.NewCond(&w.mu)

	if err := w.initializeFile(st, opts); err != nil {
		_ = file.Close()
		return nil, err
	}

	// Position at the start of the entry stream before initializing codecs.
	if _, err := w.file.Seek(w.dataOffset, 0); err != nil {
		_ = w.file.Close()
		return nil, fmt.Errorf("failed to seek WAL data offset: %w", err)
	}

	if w.compressed {
		level := zstd.EncoderLevelFromZstd(w.compressionLevel)
		compressor, err := zstd.NewWriter(w.file, zstd.WithEncoderLevel(level))
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to create compressor: %w", err)
		}
		w.compressor = compressor
		w.bufWriter = bufio.NewWriter(compressor)
		w.writer = w.bufWriter

		decompressor, err := zstd.NewReader(nil)
		if err != nil {
			_ = compressor.Close()
			_ = file.Close()
			return nil, fmt.Errorf("failed to create decompressor: %w", err)
		}
		w.decompressor = decompressor
	} else {
		w.bufWriter = bufio.NewWriter(w.file)
		w.writer = w.bufWriter
	}

	// Read existing entries to determine the next sequence number.
	if err := w.scanForSeqNum(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to scan WAL: %w", err)
	}

	if w.durabilityMode == DurabilityGroupCommit && w.groupCommitInterval > 0 {
		w.groupCommitStopCh = make(chan struct{})
		w.groupCommitTicker = time.NewTicker(w.groupCommitInterval)
		w.groupCommitWg.Add(1)
		go w.groupCommitWorker(w.groupCommitStopCh, w.groupCommitTicker)
	}

	return w, nil
}

// initializeFile writes a fresh header or reads the existing one.
func (w *WAL) initializeFile(info os.FileInfo, opts Options) error {
	if info.Size() == 0 {
		return w.writeNewHeader(opts)
	}
	return w.readExistingHeader()
}

func (w *WAL) writeNewHeader(opts Options) error {
	hdrLen, err := writeWALHeader(w.file, walHeaderInfo{
		Compressed:       opts.Compress,
		CompressionLevel: opts.CompressionLevel,
	})
	if err != nil {
		return fmt.Errorf("failed to write WAL header: %w", err)
	}
	w.dataOffset = hdrLen
	w.compressed = opts.Compress
	return nil
}

func (w *WAL) readExistingHeader() error {
	hdrInfo, valid, err := readWALHeader(w.file)
	if err != nil {
		return fmt.Errorf("failed to read WAL header: %w", err)
	}
	if !valid {
		return fmt.Errorf("invalid WAL header")
	}
	w.dataOffset = hdrInfo.HeaderLen
	w.compressed = hdrInfo.Compressed
	w.compressionLevel = hdrInfo.CompressionLevel
	return nil
}

// syncIfNeeded performs fsync based on the configured durability mode.
// Caller must hold w.mu.
func (w *WAL) syncIfNeeded() error {
	switch w.durabilityMode {
	case DurabilityAsync:
		return nil

	case DurabilitySync:
		return w.file.Sync()

	case DurabilityGroupCommit:
		// A non-positive interval means no worker was started, so nobody
		// would ever wake a waiter below; fsync inline instead.
		if w.groupCommitInterval <= 0 {
			return w.file.Sync()
		}

		w.groupCommitPending++
		targetSeq := w.seqNum

		if w.groupCommitPending >= w.groupCommitMaxOps {
			if err := w.doGroupCommit(); err != nil {
				return err
			}
		} else {
			// Wait for the background sync. syncCond.Wait releases w.mu so
			// the worker (or another writer) can perform it.
			for w.persistedSeqNum < targetSeq {
				w.syncCond.Wait()
			}
		}
		return nil

	default:
		return nil
	}
}

// doGroupCommit performs the actual fsync and resets the pending counter.
// Caller must hold w.mu.
func (w *WAL) doGroupCommit() error {
	if w.groupCommitPending == 0 {
		return nil
	}

	if err := w.file.Sync(); err != nil {
		return err
	}

	w.groupCommitPending = 0
	w.persistedSeqNum = w.seqNum
	w.syncCond.Broadcast()
	return nil
}

// groupCommitWorker runs in a background goroutine and performs periodic
// fsync. The stop channel and ticker are passed in rather than read from the
// struct, so Close can clear those fields without racing the worker.
func (w *WAL) groupCommitWorker(stopCh <-chan struct{}, ticker *time.Ticker) {
	defer w.groupCommitWg.Done()

	for {
		select {
		case <-stopCh:
			// Final fsync before shutdown
			w.mu.Lock()
			_ = w.doGroupCommit()
			w.mu.Unlock()
			return

		case <-ticker.C:
			w.mu.Lock()
			_ = w.doGroupCommit()
			w.mu.Unlock()
		}
	}
}

// scanForSeqNum scans the WAL to find the highest sequence number.
//
// A crash mid-append leaves a short entry at the tail. Such an entry was
// never acknowledged, so the scan cuts it off: later appends must follow the
// last complete entry, or no reader could ever reach them.
func (w *WAL) scanForSeqNum() error {
	if _, err := w.file.Seek(w.dataOffset, 0); err != nil {
		return err
	}

	var reader io.Reader
	if w.compressed {
		if err := w.decompressor.Reset(w.file); err != nil {
			return fmt.Errorf("failed to reset decompressor: %w", err)
		}
		reader = w.decompressor
	} else {
		reader = w.file
	}

	var (
		maxSeqNum uint64
		entries   []Entry // retained for a rewrite of a torn compressed log
		torn      bool
	)
	lastGood := w.dataOffset

	for {
		var entry Entry
		if err := w.decodeEntry(reader, &entry); err != nil {
			// Clean end of log is io.EOF at an entry boundary; anything
			// else is a torn tail entry.
			torn = !errors.Is(err, io.EOF)
			break
		}
		if entry.SeqNum > maxSeqNum {
			maxSeqNum = entry.SeqNum
		}
		if w.compressed {
			entries = append(entries, entry)
		} else {
			pos, err := w.file.Seek(0, 1)
			if err != nil {
				return err
			}
			lastGood = pos
		}
	}

	w.seqNum = maxSeqNum

	if torn {
		if err := w.dropTornTail(entries, lastGood); err != nil {
			return err
		}
	}

	// Seek back to the end for appending
	if _, err := w.file.Seek(0, 2); err != nil {
		return err
	}

	return nil
}

// dropTornTail removes a short final entry left by a crash mid-append.
//
// Uncompressed logs truncate to the end of the last complete entry. For a
// compressed log the torn frame's file offset is unknown, so the complete
// entries are re-encoded over a fresh stream instead. Either way the repair
// is synced before any new entry is acknowledged on top of it.
func (w *WAL) dropTornTail(entries []Entry, lastGood int64) error {
	if !w.compressed {
		if err := w.file.Truncate(lastGood); err != nil {
			return fmt.Errorf("failed to drop torn WAL tail: %w", err)
		}
		return w.file.Sync()
	}

	if err := w.file.Truncate(w.dataOffset); err != nil {
		return fmt.Errorf("failed to drop torn WAL tail: %w", err)
	}
	if _, err := w.file.Seek(w.dataOffset, 0); err != nil {
		return err
	}
	for i := range entries {
		if err := w.encodeEntry(&entries[i]); err != nil {
			return fmt.Errorf("failed to rewrite WAL entry %d: %w", entries[i].SeqNum, err)
		}
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Log journals one logical operation.
//
// It writes a prepare entry followed by a commit entry so recovery is atomic,
// then applies the configured durability boundary.
func (w *WAL) Log(op OperationType, key string, data []byte) error {
	if !op.isLogical() {
		return fmt.Errorf("not a logical WAL operation: %v", op)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.seqNum++
	prepare := Entry{Type: prepareFor(op), Key: key, Data: data, SeqNum: w.seqNum}
	if err := w.encodeEntry(&prepare); err != nil {
		return fmt.Errorf("failed to encode WAL prepare entry: %w", err)
	}

	w.seqNum++
	commit := Entry{Type: commitFor(op), Key: key, SeqNum: w.seqNum}
	if err := w.encodeEntry(&commit); err != nil {
		return fmt.Errorf("failed to encode WAL commit entry: %w", err)
	}

	if err := w.flushLocked(); err != nil {
		return err
	}
	w.committedOps++
	if err := w.syncCommitLocked(); err != nil {
		return err
	}
	return w.maybeCheckpointLocked()
}

// LogPrepare writes a prepare entry for a logical operation.
// Prepare entries are NOT durability boundaries; commit entries are.
func (w *WAL) LogPrepare(op OperationType, key string, data []byte) error {
	if !op.isLogical() {
		return fmt.Errorf("not a logical WAL operation: %v", op)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.seqNum++
	entry := Entry{Type: prepareFor(op), Key: key, Data: data, SeqNum: w.seqNum}
	if err := w.encodeEntry(&entry); err != nil {
		return fmt.Errorf("failed to encode WAL entry: %w", err)
	}
	return nil
}

// LogCommit writes a commit entry for a logical operation and makes it
// durable according to the configured durability mode.
func (w *WAL) LogCommit(op OperationType, key string) error {
	if !op.isLogical() {
		return fmt.Errorf("not a logical WAL operation: %v", op)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.seqNum++
	entry := Entry{Type: commitFor(op), Key: key, SeqNum: w.seqNum}
	if err := w.encodeEntry(&entry); err != nil {
		return fmt.Errorf("failed to encode WAL entry: %w", err)
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.committedOps++
	if err := w.syncCommitLocked(); err != nil {
		return err
	}
	return w.maybeCheckpointLocked()
}

// LogPrepareBatch writes prepare entries for a batch of operations.
func (w *WAL) LogPrepareBatch(records []Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, rec := range records {
		if !rec.Op.isLogical() {
			return fmt.Errorf("not a logical WAL operation at record %d: %v", i, rec.Op)
		}
		w.seqNum++
		entry := Entry{Type: prepareFor(rec.Op), Key: rec.Key, Data: rec.Data, SeqNum: w.seqNum}
		if err := w.encodeEntry(&entry); err != nil {
			return fmt.Errorf("failed to encode WAL entry %d: %w", i, err)
		}
	}
	return nil
}

// LogCommitBatch writes commit entries for a batch of operations with a
// single durability boundary at the end.
func (w *WAL) LogCommitBatch(records []Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, rec := range records {
		if !rec.Op.isLogical() {
			return fmt.Errorf("not a logical WAL operation at record %d: %v", i, rec.Op)
		}
		w.seqNum++
		entry := Entry{Type: commitFor(rec.Op), Key: rec.Key, SeqNum: w.seqNum}
		if err := w.encodeEntry(&entry); err != nil {
			return fmt.Errorf("failed to encode WAL entry %d: %w", i, err)
		}
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.committedOps += len(records)
	if err := w.syncCommitLocked(); err != nil {
		return err
	}
	return w.maybeCheckpointLocked()
}

// LogBatch journals a batch of operations efficiently: all prepares, then all
// commits, with a single durability boundary at the end.
func (w *WAL) LogBatch(records []Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, rec := range records {
		if !rec.Op.isLogical() {
			return fmt.Errorf("not a logical WAL operation at record %d: %v", i, rec.Op)
		}
		w.seqNum++
		entry := Entry{Type: prepareFor(rec.Op), Key: rec.Key, Data: rec.Data, SeqNum: w.seqNum}
		if err := w.encodeEntry(&entry); err != nil {
			return fmt.Errorf("failed to encode WAL prepare entry %d: %w", i, err)
		}
	}

	for i, rec := range records {
		w.seqNum++
		entry := Entry{Type: commitFor(rec.Op), Key: rec.Key, SeqNum: w.seqNum}
		if err := w.encodeEntry(&entry); err != nil {
			return fmt.Errorf("failed to encode WAL commit entry %d: %w", i, err)
		}
	}

	if err := w.flushLocked(); err != nil {
		return err
	}
	w.committedOps += len(records)
	if err := w.syncCommitLocked(); err != nil {
		return err
	}
	return w.maybeCheckpointLocked()
}

// Checkpoint writes a checkpoint marker and truncates the WAL.
// Call it after a successful snapshot.
func (w *WAL) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seqNum++
	entry := Entry{
		Type:   OpCheckpoint,
		SeqNum: w.seqNum,
	}

	if err := w.encodeEntry(&entry); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := w.flushLocked(); err != nil {
		return err
	}

	// Checkpoint is an explicit durability boundary.
	if err := w.file.Sync(); err != nil {
		return err
	}

	return w.truncate()
}

// truncate recreates the WAL file after a checkpoint.
func (w *WAL) truncate() error {
	if w.bufWriter != nil {
		if err := w.bufWriter.Flush(); err != nil {
			return fmt.Errorf("failed to flush buffer: %w", err)
		}
	}

	if w.compressed && w.compressor != nil {
		if err := w.compressor.Close(); err != nil {
			return fmt.Errorf("failed to close compressor: %w", err)
		}
	}

	if err := w.file.Close(); err != nil {
		return err
	}

	file, err := os.OpenFile(w.filePath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to truncate WAL file: %w", err)
	}

	w.file = file

	// Always write a self-describing header after truncation.
	hdrLen, err := writeWALHeader(w.file, walHeaderInfo{
		Compressed:       w.compressed,
		CompressionLevel: w.compressionLevel,
	})
	if err != nil {
		_ = w.file.Close()
		return err
	}
	w.dataOffset = hdrLen
	if _, err := w.file.Seek(w.dataOffset, 0); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("failed to seek WAL data offset: %w", err)
	}

	if w.compressed {
		level := zstd.EncoderLevelFromZstd(w.compressionLevel)
		compressor, err := zstd.NewWriter(file, zstd.WithEncoderLevel(level))
		if err != nil {
			_ = file.Close()
			return fmt.Errorf("failed to recreate compressor: %w", err)
		}
		w.compressor = compressor
		w.bufWriter = bufio.NewWriter(compressor)
		w.writer = w.bufWriter
	} else {
		w.bufWriter = bufio.NewWriter(file)
		w.writer = w.bufWriter
	}

	w.seqNum = 0
	w.committedOps = 0

	return nil
}

// Close closes the WAL file gracefully.
//
// It stops the group commit worker (if running), waits for it to finish,
// flushes pending entries and closes the file. After Close returns, the WAL
// is no longer usable. Close is idempotent.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}

	if w.groupCommitStopCh != nil {
		// Signal the worker to stop, clearing the field first so a
		// concurrent Close cannot close the channel twice, then wait for
		// the worker without holding the lock (it needs it for its final
		// fsync).
		close(w.groupCommitStopCh)
		w.groupCommitStopCh = nil
		w.mu.Unlock()
		w.groupCommitWg.Wait()
		w.mu.Lock()
		if w.groupCommitTicker != nil {
			w.groupCommitTicker.Stop()
			w.groupCommitTicker = nil
		}
		// Another Close may have finished while the lock was released.
		if w.file == nil {
			return nil
		}
	}

	if w.bufWriter != nil {
		if err := w.bufWriter.Flush(); err != nil {
			return fmt.Errorf("failed to flush buffer: %w", err)
		}
	}

	if w.compressed && w.compressor != nil {
		if err := w.compressor.Close(); err != nil {
			return fmt.Errorf("failed to close compressor: %w", err)
		}
	}

	if w.decompressor != nil {
		w.decompressor.Close()
	}

	err := w.file.Close()
	w.file = nil
	return err
}

// Len returns the number of entries in the WAL (approximate, for testing).
func (w *WAL) Len() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	currentPos, err := w.file.Seek(0, 1)
	if err != nil {
		return 0, err
	}

	if _, err := w.file.Seek(w.dataOffset, 0); err != nil {
		return 0, err
	}

	var reader io.Reader
	if w.compressed {
		if err := w.decompressor.Reset(w.file); err != nil {
			return 0, fmt.Errorf("failed to reset decompressor: %w", err)
		}
		reader = w.decompressor
	} else {
		reader = bufio.NewReader(w.file)
	}

	count := 0

	for {
		var entry Entry
		if err := w.decodeEntry(reader, &entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			break
		}
		count++
	}

	if _, err := w.file.Seek(currentPos, 0); err != nil {
		return count, err
	}

	return count, nil
}

// SetCheckpointCallback sets the function to call when an auto-checkpoint
// threshold is exceeded. The callback is typically the associator's snapshot
// routine.
func (w *WAL) SetCheckpointCallback(fn func() error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checkpointFunc = fn
}

// maybeCheckpointLocked triggers the checkpoint callback when an
// auto-checkpoint threshold is exceeded. Caller must hold w.mu.
func (w *WAL) maybeCheckpointLocked() error {
	if w.autoCheckpointOps > 0 && w.committedOps >= w.autoCheckpointOps {
		return w.triggerAutoCheckpointLocked()
	}

	if w.autoCheckpointMB > 0 {
		stat, err := w.file.Stat()
		if err == nil {
			sizeMB := stat.Size() / (1024 * 1024)
			if sizeMB >= int64(w.autoCheckpointMB) {
				return w.triggerAutoCheckpointLocked()
			}
		}
	}

	return nil
}

// triggerAutoCheckpointLocked executes the checkpoint callback.
// Caller must hold w.mu.
func (w *WAL) triggerAutoCheckpointLocked() error {
	if w.checkpointFunc == nil {
		return nil
	}

	w.committedOps = 0

	// Release the lock around the callback; it re-enters the WAL through
	// Checkpoint.
	w.mu.Unlock()
	err := w.checkpointFunc()
	w.mu.Lock()

	return err
}
