// Package persistence provides durable storage primitives for geoset.
//
// It contains three layers:
//
//   - Atomic file helpers (SaveToFile, AtomicSaveToDir) that write through a
//     temp file and rename, so readers never observe a partially written
//     snapshot.
//   - The sectioned snapshot container: a single file holding one payload
//     section per component (tables, graph, filters), each CRC32-checksummed
//     and optionally lz4-compressed, addressed through a trailing directory.
//   - The Manager, which coordinates snapshot creation, WAL checkpointing
//     and crash recovery (snapshot load followed by WAL replay) behind one
//     thread-safe type.
//
// The container format is self-describing: the header records the codec name
// and the dataset SRID, so a dataset can be reopened without out-of-band
// configuration.
package persistence
