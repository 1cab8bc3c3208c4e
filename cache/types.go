// Package cache provides byte-oriented block caching for immutable data,
// primarily blocks read from a blob store. Caches account their memory
// against an optional resource.Controller so cached blocks count toward
// the process-wide memory budget.
package cache

import "context"

// Kind separates key spaces so different block types never collide.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindBlob         // blob store blocks
)

// Key identifies a cached block. It must be stable across processes:
// the same (Kind, Path, Offset) always refers to the same immutable bytes.
type Key struct {
	Kind Kind
	// Path identifies the source blob or file.
	Path string
	// Offset is a logical block identifier, typically an aligned byte offset.
	Offset uint64
}

// BlockCache is a byte-oriented cache for immutable blocks.
// Returned slices must be treated as read-only.
type BlockCache interface {
	// Get returns a cached block. ok=false if missing.
	Get(ctx context.Context, key Key) (b []byte, ok bool)
	// Set caches a block. Implementations may copy or retain; caller must treat b as immutable.
	Set(ctx context.Context, key Key, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key Key) bool)
	// Close releases any resources held by the cache.
	Close() error
	// Stats returns cache statistics.
	Stats() (hits, misses int64)
}
