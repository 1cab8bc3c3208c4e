package engine

import "github.com/hupe1980/geoset/wal"

// Durability is the journaling surface a coordinator mutates through. It
// intentionally matches the WAL method surface the coordinator uses; a
// *wal.WAL satisfies this interface directly.
type Durability interface {
	LogPrepare(op wal.OperationType, key string, data []byte) error
	LogCommit(op wal.OperationType, key string) error
	LogBatch(records []wal.Record) error
	Checkpoint() error
	Close() error
}

var _ Durability = (*wal.WAL)(nil)

// NoopDurability journals nothing. It backs in-memory datasets where crash
// recovery is not a requirement.
type NoopDurability struct{}

func (NoopDurability) LogPrepare(wal.OperationType, string, []byte) error { return nil }
func (NoopDurability) LogCommit(wal.OperationType, string) error          { return nil }
func (NoopDurability) LogBatch([]wal.Record) error                        { return nil }
func (NoopDurability) Checkpoint() error                                  { return nil }
func (NoopDurability) Close() error                                       { return nil }
