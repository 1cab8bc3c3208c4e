package blobstore

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/geoset/cache"
)

// defaultBlockSize is used when NewCachingStore is given a size <= 0.
const defaultBlockSize = 4096

// CachingStore wraps a BlobStore and adds block-level read caching.
// Writes pass through; Put and Delete invalidate cached blocks for the
// affected blob.
type CachingStore struct {
	inner     BlobStore
	cache     cache.BlockCache
	blockSize int64
}

var _ BlobStore = (*CachingStore)(nil)

// NewCachingStore creates a new CachingStore.
// blockSize defaults to 4KB if <= 0.
func NewCachingStore(inner BlobStore, blockCache cache.BlockCache, blockSize int64) *CachingStore {
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	return &CachingStore{
		inner:     inner,
		cache:     blockCache,
		blockSize: blockSize,
	}
}

// Open opens a blob whose reads go through the block cache.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &CachingBlob{
		inner:     b,
		cache:     s.cache,
		name:      name,
		blockSize: s.blockSize,
	}, nil
}

// Create passes through. Blobs are written once, so there is nothing to
// invalidate for a fresh name.
func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	return s.inner.Create(ctx, name)
}

// Put replaces a blob and drops its cached blocks.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.cache.Invalidate(func(key cache.Key) bool {
		return key.Kind == cache.KindBlob && key.Path == name
	})
	return s.inner.Put(ctx, name, data)
}

// Delete removes a blob and drops its cached blocks.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.cache.Invalidate(func(key cache.Key) bool {
		return key.Kind == cache.KindBlob && key.Path == name
	})
	return s.inner.Delete(ctx, name)
}

// List passes through.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// CachingBlob wraps a Blob and serves reads from the block cache.
type CachingBlob struct {
	inner     Blob
	cache     cache.BlockCache
	name      string
	blockSize int64
}

var _ Blob = (*CachingBlob)(nil)

func (b *CachingBlob) Close() error {
	return b.inner.Close()
}

func (b *CachingBlob) Size() int64 {
	return b.inner.Size()
}

// ReadAt assembles the requested range from cached blocks, fetching any
// missing blocks from the inner blob first.
func (b *CachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, errors.New("blobstore: negative offset")
	}

	startBlock := off / b.blockSize
	endBlock := (off + int64(len(p)) - 1) / b.blockSize

	if err := b.fillCache(ctx, startBlock, endBlock); err != nil {
		return 0, err
	}

	totalRead := 0
	for blk := startBlock; blk <= endBlock; blk++ {
		blkStart := blk * b.blockSize

		// Intersect the block [blkStart, blkStart+blockSize) with the
		// request [off, off+len(p)).
		intersectStart := max(blkStart, off)
		intersectEnd := min(blkStart+b.blockSize, off+int64(len(p)))
		if intersectEnd <= intersectStart {
			continue
		}

		copySize := int(intersectEnd - intersectStart)
		dstOffset := intersectStart - off

		blockData, err := b.fetchBlock(ctx, blk)
		if err != nil {
			return totalRead, err
		}

		srcOffset := intersectStart - blkStart

		// The last block of a blob is short when the size is not a
		// multiple of the block size.
		if srcOffset+int64(copySize) > int64(len(blockData)) {
			copySize = len(blockData) - int(srcOffset)
		}

		if copySize > 0 {
			n := copy(p[dstOffset:dstOffset+int64(copySize)], blockData[srcOffset:])
			totalRead += n
		}
	}

	if totalRead < len(p) {
		return totalRead, io.EOF
	}
	return totalRead, nil
}

// fillCache ensures the blocks in [startBlock, endBlock] are cached.
// Contiguous runs of missing blocks are fetched in single backend reads,
// in parallel across runs.
func (b *CachingBlob) fillCache(ctx context.Context, startBlock, endBlock int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	type run struct {
		start, count int64
	}
	var missing []run

	runStart := int64(-1)
	runCount := int64(0)
	for blk := startBlock; blk <= endBlock; blk++ {
		key := cache.Key{
			Kind:   cache.KindBlob,
			Path:   b.name,
			Offset: uint64(blk),
		}
		if _, ok := b.cache.Get(ctx, key); !ok {
			if runStart == -1 {
				runStart = blk
				runCount = 1
			} else {
				runCount++
			}
		} else if runStart != -1 {
			missing = append(missing, run{runStart, runCount})
			runStart = -1
			runCount = 0
		}
	}
	if runStart != -1 {
		missing = append(missing, run{runStart, runCount})
	}

	g, ctx := errgroup.WithContext(ctx)
	// Bounded so a large scan cannot exhaust FDs or backend rate limits.
	g.SetLimit(16)

	for _, r := range missing {
		g.Go(func() error {
			byteStart := r.start * b.blockSize
			byteSize := r.count * b.blockSize

			fileSize := b.Size()
			if byteStart >= fileSize {
				return nil
			}
			if byteStart+byteSize > fileSize {
				byteSize = fileSize - byteStart
			}

			buf := make([]byte, byteSize)
			n, err := b.inner.ReadAt(ctx, buf, byteStart)
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			if n == 0 {
				return nil
			}
			validData := buf[:n]

			for i := int64(0); i < r.count; i++ {
				offsetInRun := i * b.blockSize
				if offsetInRun >= int64(len(validData)) {
					break
				}
				endInRun := min(offsetInRun+b.blockSize, int64(len(validData)))

				// Copy each block out so the cache never pins the
				// full run buffer.
				blockCopy := make([]byte, endInRun-offsetInRun)
				copy(blockCopy, validData[offsetInRun:endInRun])

				b.cache.Set(ctx, cache.Key{
					Kind:   cache.KindBlob,
					Path:   b.name,
					Offset: uint64(r.start + i),
				}, blockCopy)
			}
			return nil
		})
	}
	return g.Wait()
}

// fetchBlock returns one block, from the cache if present.
func (b *CachingBlob) fetchBlock(ctx context.Context, blkIdx int64) ([]byte, error) {
	key := cache.Key{
		Kind:   cache.KindBlob,
		Path:   b.name,
		Offset: uint64(blkIdx),
	}

	if data, ok := b.cache.Get(ctx, key); ok {
		return data, nil
	}

	buf := make([]byte, b.blockSize)
	n, err := b.inner.ReadAt(ctx, buf, blkIdx*b.blockSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	validData := buf[:n]

	if n > 0 {
		b.cache.Set(ctx, key, validData)
	}
	return validData, nil
}

// ReadRange reads through the block cache via ReadAt.
func (b *CachingBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	return io.NopCloser(&contextSectionReader{blob: b, ctx: ctx, off: off, limit: off + length}), nil
}

// contextSectionReader adapts CachingBlob.ReadAt to io.Reader.
type contextSectionReader struct {
	blob  *CachingBlob
	ctx   context.Context
	off   int64
	limit int64
}

func (r *contextSectionReader) Read(p []byte) (n int, err error) {
	if r.off >= r.limit {
		return 0, io.EOF
	}
	if remaining := r.limit - r.off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err = r.blob.ReadAt(r.ctx, p, r.off)
	r.off += int64(n)
	return
}
