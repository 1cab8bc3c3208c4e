package wal

import (
	"encoding/binary"
	"fmt"
	"io"
)

// encodeEntry writes an entry in binary format.
// Format: [Type:1][SeqNum:8][KeyLen:4][Key:N][DataLen:4][Data:N]
// The key is always present (possibly empty); the payload only on prepare
// entries.
func (w *WAL) encodeEntry(entry *Entry) error {
	// Logical types are emitted by ReplayCommitted, not written to disk.
	if entry.Type.isLogical() {
		return fmt.Errorf("unsupported on-disk WAL entry type: %v", entry.Type)
	}

	if err := binary.Write(w.writer, binary.LittleEndian, entry.Type); err != nil {
		return err
	}

	if err := binary.Write(w.writer, binary.LittleEndian, entry.SeqNum); err != nil {
		return err
	}

	keyLen := uint32(len(entry.Key)) //nolint:gosec
	if err := binary.Write(w.writer, binary.LittleEndian, keyLen); err != nil {
		return err
	}
	if keyLen > 0 {
		if _, err := io.WriteString(w.writer, entry.Key); err != nil {
			return err
		}
	}

	if entry.Type.isPrepare() {
		dataLen := uint32(len(entry.Data)) //nolint:gosec
		if err := binary.Write(w.writer, binary.LittleEndian, dataLen); err != nil {
			return err
		}
		if dataLen > 0 {
			if _, err := w.writer.Write(entry.Data); err != nil {
				return err
			}
		}
	}

	return nil
}

// decodeEntry reads an entry in binary format.
func (w *WAL) decodeEntry(reader io.Reader, entry *Entry) error {
	if err := binary.Read(reader, binary.LittleEndian, &entry.Type); err != nil {
		return err
	}
	if entry.Type.isLogical() || entry.Type > OpCommitDropClasses {
		return fmt.Errorf("unsupported WAL entry type: %v", entry.Type)
	}

	if err := binary.Read(reader, binary.LittleEndian, &entry.SeqNum); err != nil {
		return err
	}

	var keyLen uint32
	if err := binary.Read(reader, binary.LittleEndian, &keyLen); err != nil {
		return err
	}
	entry.Key = ""
	if keyLen > 0 {
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(reader, key); err != nil {
			return err
		}
		entry.Key = string(key)
	}

	entry.Data = nil
	if entry.Type.isPrepare() {
		var dataLen uint32
		if err := binary.Read(reader, binary.LittleEndian, &dataLen); err != nil {
			return err
		}
		if dataLen > 0 {
			entry.Data = make([]byte, dataLen)
			if _, err := io.ReadFull(reader, entry.Data); err != nil {
				return err
			}
		}
	}

	return nil
}

func (w *WAL) flushLocked() error {
	if err := w.bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if w.compressed {
		if err := w.compressor.Flush(); err != nil {
			return fmt.Errorf("failed to flush compressor: %w", err)
		}
	}
	return nil
}

func (w *WAL) syncCommitLocked() error {
	// Commit is an explicit durability boundary; how it reaches disk depends
	// on the configured durability mode.
	return w.syncIfNeeded()
}
