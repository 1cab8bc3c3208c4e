package persistence

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// fileBufferSize is the buffer used for snapshot file IO. Snapshots are
// written in one sequential pass, so large buffered writes dominate.
const fileBufferSize = 256 * 1024

// SaveToFile writes a file atomically: writeFunc streams into a temp file in
// the target directory, which is fsynced and renamed over filename. Readers
// never observe a partially written file.
func SaveToFile(filename string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	// Temp file in the same directory so the rename stays atomic.
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	// Match typical file permissions (best-effort).
	_ = tmp.Chmod(0644)

	buf := bufio.NewWriterSize(tmp, fileBufferSize)
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	// Success: prevent the deferred cleanup from removing the final file.
	tmpName = ""
	return nil
}

// LoadFromFile opens filename and passes a buffered reader to readFunc.
func LoadFromFile(filename string, readFunc func(io.Reader) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := bufio.NewReaderSize(f, fileBufferSize)
	return readFunc(buf)
}

// AtomicSaveToDir saves multiple files atomically to a directory.
// All files are written to temp files first, then renamed together, so a
// failure mid-way leaves the directory without partial updates.
//
// Usage:
//
//	err := persistence.AtomicSaveToDir(dir, map[string]func(io.Writer) error{
//	    "graph.bin": func(w io.Writer) error { return writeGraph(w) },
//	    "meta.bin":  func(w io.Writer) error { return writeMeta(w) },
//	})
func AtomicSaveToDir(dir string, files map[string]func(io.Writer) error) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("persistence: failed to create directory %s: %w", dir, err)
	}

	// Track temp files for cleanup on error.
	tempFiles := make([]string, 0, len(files))
	defer func() {
		for _, tmp := range tempFiles {
			_ = os.Remove(tmp)
		}
	}()

	type fileMapping struct {
		temp   string
		target string
	}
	mappings := make([]fileMapping, 0, len(files))

	for filename, writeFunc := range files {
		target := filepath.Join(dir, filename)

		tmp, err := os.CreateTemp(dir, filename+".tmp-*")
		if err != nil {
			return fmt.Errorf("persistence: failed to create temp file for %s: %w", filename, err)
		}
		tempFiles = append(tempFiles, tmp.Name())

		if err := writeFunc(tmp); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("persistence: failed to write %s: %w", filename, err)
		}

		if err := tmp.Sync(); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("persistence: failed to sync %s: %w", filename, err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("persistence: failed to close %s: %w", filename, err)
		}

		mappings = append(mappings, fileMapping{temp: tmp.Name(), target: target})
	}

	// Rename all temp files to final names (atomic on most filesystems).
	for _, m := range mappings {
		if err := os.Rename(m.temp, m.target); err != nil {
			return fmt.Errorf("persistence: failed to rename %s: %w", m.target, err)
		}
	}

	// Renames succeeded; disarm the deferred cleanup.
	tempFiles = nil

	// Best-effort: fsync directory.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	return nil
}
