package wal

import (
	"time"
)

// DurabilityMode defines the fsync behavior for WAL writes.
type DurabilityMode int

const (
	// DurabilityAsync performs no fsync. Fastest writes but operations
	// acknowledged shortly before a crash may be lost. Use when the dataset
	// can be rebuilt from its sources.
	DurabilityAsync DurabilityMode = iota

	// DurabilityGroupCommit batches fsync at regular intervals, amortizing
	// the cost across multiple operations. Recommended for most workloads.
	DurabilityGroupCommit

	// DurabilitySync performs fsync after every committed operation.
	// Slowest but strongest guarantee.
	DurabilitySync
)

// OperationType represents the type of operation in the WAL.
type OperationType uint8

// Logical operation types. ReplayCommitted emits these; they never appear on
// disk themselves. The prepare/commit protocol below records them durably.
const (
	// OpRegisterImage registers or replaces an image record.
	// Key is the image name; Data is the serialized record.
	OpRegisterImage OperationType = iota
	// OpRegisterPolygon registers or replaces a polygon record.
	// Key is the polygon id; Data is the serialized record.
	OpRegisterPolygon
	// OpRemoveImage removes an image. Key is the image name.
	OpRemoveImage
	// OpRemovePolygon removes a polygon. Key is the polygon id.
	OpRemovePolygon
	// OpSetImageStatus updates the lifecycle status of an image.
	// Key is the image name; Data is the serialized status payload.
	OpSetImageStatus
	// OpCombineClasses rewrites source class labels into a target label.
	// Key is the target class; Data is the serialized source list.
	OpCombineClasses
	// OpDropClasses removes class labels from all polygons.
	// Key is empty; Data is the serialized drop payload.
	OpDropClasses

	// OpCheckpoint represents a checkpoint marker.
	OpCheckpoint
)

// Prepare/commit protocol (atomic recovery):
// A prepare entry records the intended mutation including its payload; a
// commit entry marks it as durable. Recovery applies only committed
// operations, so a torn prepare at the tail of the log is ignored instead of
// being half-applied.
const (
	OpPrepareRegisterImage OperationType = iota + OpCheckpoint + 1
	OpPrepareRegisterPolygon
	OpPrepareRemoveImage
	OpPrepareRemovePolygon
	OpPrepareSetImageStatus
	OpPrepareCombineClasses
	OpPrepareDropClasses

	OpCommitRegisterImage
	OpCommitRegisterPolygon
	OpCommitRemoveImage
	OpCommitRemovePolygon
	OpCommitSetImageStatus
	OpCommitCombineClasses
	OpCommitDropClasses
)

// isLogical reports whether t is a logical operation type (replay output,
// never written to disk). OpCheckpoint is not logical; it is a marker.
func (t OperationType) isLogical() bool {
	return t < OpCheckpoint
}

func (t OperationType) isPrepare() bool {
	return t >= OpPrepareRegisterImage && t < OpCommitRegisterImage
}

func (t OperationType) isCommit() bool {
	return t >= OpCommitRegisterImage && t <= OpCommitDropClasses
}

// prepareFor returns the on-disk prepare type for a logical operation.
func prepareFor(op OperationType) OperationType {
	return OpPrepareRegisterImage + (op - OpRegisterImage)
}

// commitFor returns the on-disk commit type for a logical operation.
func commitFor(op OperationType) OperationType {
	return OpCommitRegisterImage + (op - OpRegisterImage)
}

// logical returns the logical operation recorded by a prepare or commit type.
func (t OperationType) logical() OperationType {
	switch {
	case t.isPrepare():
		return OpRegisterImage + (t - OpPrepareRegisterImage)
	case t.isCommit():
		return OpRegisterImage + (t - OpCommitRegisterImage)
	default:
		return t
	}
}

// Entry represents a single entry in the WAL.
type Entry struct {
	Type   OperationType
	Key    string // image name, polygon id or target class, depending on Type
	Data   []byte // serialized operation payload (prepare entries only)
	SeqNum uint64 // sequence number for ordering
}

// Record is one logical operation in a batch append.
type Record struct {
	Op   OperationType
	Key  string
	Data []byte
}

// Options contains configuration for the WAL.
type Options struct {
	// Path is the directory where the WAL file is stored.
	Path string

	// Compress enables zstd compression of the entry stream. GeoJSON
	// footprints compress well, typically 3x or better.
	Compress bool

	// CompressionLevel sets the zstd compression level (1-22).
	// The default (3) balances ratio and write speed.
	CompressionLevel int

	// AutoCheckpointOps triggers an automatic checkpoint after N committed
	// operations. Set to 0 to disable operation-based checkpoints.
	AutoCheckpointOps int

	// AutoCheckpointMB triggers an automatic checkpoint when the WAL file
	// exceeds N megabytes. Set to 0 to disable size-based checkpoints.
	AutoCheckpointMB int

	// DurabilityMode controls fsync behavior (Async, GroupCommit, Sync).
	DurabilityMode DurabilityMode

	// GroupCommitInterval is the maximum time to wait before fsync in
	// GroupCommit mode. A non-positive interval disables the background
	// worker; every commit then fsyncs synchronously.
	GroupCommitInterval time.Duration

	// GroupCommitMaxOps is the maximum number of operations to batch before
	// fsync in GroupCommit mode.
	GroupCommitMaxOps int
}

// DefaultOptions returns default WAL options.
var DefaultOptions = Options{
	Path:                ".",
	Compress:            false,
	CompressionLevel:    3,
	AutoCheckpointOps:   10000,
	AutoCheckpointMB:    100,
	DurabilityMode:      DurabilityGroupCommit,
	GroupCommitInterval: 10 * time.Millisecond,
	GroupCommitMaxOps:   100,
}
