package persistence

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

var (
	containerMagic       = [4]byte{'G', 'S', 'N', 'P'}
	containerDirMagic    = [4]byte{'G', 'S', 'N', 'D'}
	containerFooterMagic = [4]byte{'G', 'S', 'N', 'F'}
)

const containerFormatVersion = uint16(1)

// Compression selects the per-section compression applied by a ContainerWriter.
type Compression uint16

const (
	// CompressionNone stores section payloads verbatim.
	CompressionNone Compression = 0
	// CompressionLZ4 stores section payloads as lz4 frames.
	CompressionLZ4 Compression = 1
)

const sectionFlagLZ4 = uint16(1 << 0)

// sectionEntry is one directory row locating a section payload.
// Checksum covers the stored bytes (compressed form when flagged).
type sectionEntry struct {
	ID       uint16
	Flags    uint16
	Checksum uint32
	Offset   uint64
	Len      uint64 // stored length
	RawLen   uint64 // uncompressed length
}

// ContainerOptions configure a snapshot container.
type ContainerOptions struct {
	// CodecName is recorded in the header so the container is self-describing.
	CodecName string
	// SRID is the dataset CRS, recorded in the header.
	SRID uint32
	// Compression is applied to every section payload.
	Compression Compression
}

// ContainerWriter writes a sectioned snapshot container.
//
// Format:
//  1. header (magic/version/codec name/SRID)
//  2. section payloads, each CRC32-checksummed, optionally lz4-compressed
//  3. directory (id/flags/checksum/offset/lengths per section)
//  4. footer (directory offset/length)
//
// Sections are identified by caller-defined uint16 ids and must be unique
// within a container. Call Finish after the last section to write the
// directory and footer.
type ContainerWriter struct {
	cw       *countingWriter
	opts     ContainerOptions
	sections []sectionEntry
	finished bool
}

// NewContainerWriter writes the container header to w and returns a writer
// for appending sections.
func NewContainerWriter(w io.Writer, opts ContainerOptions) (*ContainerWriter, error) {
	if w == nil {
		return nil, fmt.Errorf("container: writer is nil")
	}
	if len(opts.CodecName) > 0xFFFF {
		return nil, fmt.Errorf("container: codec name too long: %d", len(opts.CodecName))
	}
	switch opts.Compression {
	case CompressionNone, CompressionLZ4:
	default:
		return nil, fmt.Errorf("container: unsupported compression %d", opts.Compression)
	}

	// Header (16 bytes + codec name)
	// [0:4]   magic
	// [4:6]   version
	// [6:8]   reserved
	// [8:10]  codec name len
	// [10:12] reserved
	// [12:16] SRID
	var hdr [16]byte
	copy(hdr[0:4], containerMagic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], containerFormatVersion)
	binary.LittleEndian.PutUint16(hdr[8:10], uint16(len(opts.CodecName)))
	binary.LittleEndian.PutUint32(hdr[12:16], opts.SRID)
	if _, err := w.Write(hdr[:]); err != nil {
		return nil, err
	}
	if len(opts.CodecName) > 0 {
		if _, err := io.WriteString(w, opts.CodecName); err != nil {
			return nil, err
		}
	}

	cw := &countingWriter{w: w}
	cw.n = int64(len(hdr)) + int64(len(opts.CodecName))

	return &ContainerWriter{cw: cw, opts: opts}, nil
}

// WriteSection appends a section from an in-memory payload.
func (c *ContainerWriter) WriteSection(id uint16, data []byte) error {
	if err := c.beginSection(id); err != nil {
		return err
	}

	entry := sectionEntry{ID: id, Offset: uint64(c.cw.n), RawLen: uint64(len(data))}

	stored := data
	if c.opts.Compression == CompressionLZ4 {
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("container: failed to compress section %d: %w", id, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("container: failed to compress section %d: %w", id, err)
		}
		stored = buf.Bytes()
		entry.Flags |= sectionFlagLZ4
	}

	entry.Checksum = ComputeChecksum(stored)
	if _, err := c.cw.Write(stored); err != nil {
		return err
	}
	entry.Len = uint64(len(stored))

	c.sections = append(c.sections, entry)
	return nil
}

// StreamSection appends a section by streaming wt through the checksum (and
// compression) pipeline without buffering the payload.
func (c *ContainerWriter) StreamSection(id uint16, wt io.WriterTo) error {
	if err := c.beginSection(id); err != nil {
		return err
	}

	entry := sectionEntry{ID: id, Offset: uint64(c.cw.n)}
	sum := NewChecksumWriter(c.cw)

	if c.opts.Compression == CompressionLZ4 {
		zw := lz4.NewWriter(sum)
		n, err := wt.WriteTo(zw)
		if err != nil {
			return fmt.Errorf("container: failed to write section %d: %w", id, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("container: failed to compress section %d: %w", id, err)
		}
		entry.RawLen = uint64(n)
		entry.Flags |= sectionFlagLZ4
	} else {
		n, err := wt.WriteTo(sum)
		if err != nil {
			return fmt.Errorf("container: failed to write section %d: %w", id, err)
		}
		entry.RawLen = uint64(n)
	}

	entry.Checksum = sum.Sum()
	entry.Len = uint64(c.cw.n) - entry.Offset

	c.sections = append(c.sections, entry)
	return nil
}

func (c *ContainerWriter) beginSection(id uint16) error {
	if c.finished {
		return fmt.Errorf("container: already finished")
	}
	for _, s := range c.sections {
		if s.ID == id {
			return fmt.Errorf("container: duplicate section %d", id)
		}
	}
	return nil
}

// Finish writes the directory and footer. The container is complete and
// unusable for further sections afterwards.
func (c *ContainerWriter) Finish() error {
	if c.finished {
		return fmt.Errorf("container: already finished")
	}
	if len(c.sections) == 0 {
		return fmt.Errorf("container: no sections written")
	}
	c.finished = true

	// Directory header (12 bytes)
	// [0:4]  magic
	// [4:6]  version
	// [6:8]  reserved
	// [8:12] entry count
	dirOff := uint64(c.cw.n)
	var dh [12]byte
	copy(dh[0:4], containerDirMagic[:])
	binary.LittleEndian.PutUint16(dh[4:6], containerFormatVersion)
	binary.LittleEndian.PutUint32(dh[8:12], uint32(len(c.sections)))
	if _, err := c.cw.Write(dh[:]); err != nil {
		return err
	}

	// Each entry is 32 bytes
	// [0:2]   id
	// [2:4]   flags
	// [4:8]   checksum (CRC32 of stored bytes)
	// [8:16]  offset
	// [16:24] stored length
	// [24:32] uncompressed length
	for _, e := range c.sections {
		var b [32]byte
		binary.LittleEndian.PutUint16(b[0:2], e.ID)
		binary.LittleEndian.PutUint16(b[2:4], e.Flags)
		binary.LittleEndian.PutUint32(b[4:8], e.Checksum)
		binary.LittleEndian.PutUint64(b[8:16], e.Offset)
		binary.LittleEndian.PutUint64(b[16:24], e.Len)
		binary.LittleEndian.PutUint64(b[24:32], e.RawLen)
		if _, err := c.cw.Write(b[:]); err != nil {
			return err
		}
	}
	dirLen := uint64(c.cw.n) - dirOff

	// Footer (24 bytes)
	// [0:4]   magic
	// [4:6]   version
	// [6:8]   reserved
	// [8:16]  directory offset
	// [16:24] directory length
	var fb [24]byte
	copy(fb[0:4], containerFooterMagic[:])
	binary.LittleEndian.PutUint16(fb[4:6], containerFormatVersion)
	binary.LittleEndian.PutUint64(fb[8:16], dirOff)
	binary.LittleEndian.PutUint64(fb[16:24], dirLen)
	_, err := c.cw.Write(fb[:])
	return err
}

// Container provides random access to the sections of a snapshot container.
type Container struct {
	// CodecName is the codec recorded when the container was written.
	CodecName string
	// SRID is the dataset CRS recorded when the container was written.
	SRID uint32

	r        io.ReadSeeker
	sections map[uint16]sectionEntry
}

// OpenContainer parses the header, footer and directory of a container.
// Section payloads are read lazily via Section.
func OpenContainer(r io.ReadSeeker) (*Container, error) {
	if r == nil {
		return nil, fmt.Errorf("container: reader is nil")
	}

	// Header
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("container: failed to read header: %w", err)
	}
	if [4]byte(hdr[0:4]) != containerMagic {
		return nil, fmt.Errorf("container: bad magic")
	}
	ver := binary.LittleEndian.Uint16(hdr[4:6])
	if ver != containerFormatVersion {
		return nil, fmt.Errorf("container: unsupported format version %d", ver)
	}
	nameLen := int(binary.LittleEndian.Uint16(hdr[8:10]))
	srid := binary.LittleEndian.Uint32(hdr[12:16])

	nameBytes := make([]byte, nameLen)
	if nameLen > 0 {
		if _, err := io.ReadFull(r, nameBytes); err != nil {
			return nil, fmt.Errorf("container: failed to read codec name: %w", err)
		}
	}

	// Footer (last 24 bytes)
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if end < 24 {
		return nil, fmt.Errorf("container: truncated file")
	}
	if _, err := r.Seek(end-24, io.SeekStart); err != nil {
		return nil, err
	}
	var foot [24]byte
	if _, err := io.ReadFull(r, foot[:]); err != nil {
		return nil, err
	}
	if [4]byte(foot[0:4]) != containerFooterMagic {
		return nil, fmt.Errorf("container: missing footer")
	}
	fver := binary.LittleEndian.Uint16(foot[4:6])
	if fver != containerFormatVersion {
		return nil, fmt.Errorf("container: unsupported footer version %d", fver)
	}

	const maxInt64u = uint64(^uint64(0) >> 1)
	dirOffU := binary.LittleEndian.Uint64(foot[8:16])
	dirLenU := binary.LittleEndian.Uint64(foot[16:24])
	if dirOffU > maxInt64u || dirLenU > maxInt64u {
		return nil, fmt.Errorf("container: invalid directory offsets")
	}
	dataEndU := uint64(end - 24)
	if dirLenU < 12 || dirOffU > dataEndU || dirLenU > dataEndU-dirOffU {
		return nil, fmt.Errorf("container: invalid directory range")
	}

	// Directory header
	if _, err := r.Seek(int64(dirOffU), io.SeekStart); err != nil {
		return nil, err
	}
	var dh [12]byte
	if _, err := io.ReadFull(r, dh[:]); err != nil {
		return nil, err
	}
	if [4]byte(dh[0:4]) != containerDirMagic {
		return nil, fmt.Errorf("container: invalid directory magic")
	}
	dver := binary.LittleEndian.Uint16(dh[4:6])
	if dver != containerFormatVersion {
		return nil, fmt.Errorf("container: unsupported directory version %d", dver)
	}
	entryCount := int(binary.LittleEndian.Uint32(dh[8:12]))
	if entryCount <= 0 {
		return nil, fmt.Errorf("container: invalid section count %d", entryCount)
	}
	if dirLenU != uint64(12+32*entryCount) {
		return nil, fmt.Errorf("container: directory length %d does not match %d entries", dirLenU, entryCount)
	}

	headerEndU := uint64(16 + nameLen)
	sections := make(map[uint16]sectionEntry, entryCount)
	for i := 0; i < entryCount; i++ {
		var eb [32]byte
		if _, err := io.ReadFull(r, eb[:]); err != nil {
			return nil, err
		}
		e := sectionEntry{
			ID:       binary.LittleEndian.Uint16(eb[0:2]),
			Flags:    binary.LittleEndian.Uint16(eb[2:4]),
			Checksum: binary.LittleEndian.Uint32(eb[4:8]),
			Offset:   binary.LittleEndian.Uint64(eb[8:16]),
			Len:      binary.LittleEndian.Uint64(eb[16:24]),
			RawLen:   binary.LittleEndian.Uint64(eb[24:32]),
		}
		if _, exists := sections[e.ID]; exists {
			return nil, fmt.Errorf("container: duplicate section %d", e.ID)
		}
		// Sections must sit between the header and the directory.
		if e.Offset < headerEndU {
			return nil, fmt.Errorf("container: invalid offset for section %d", e.ID)
		}
		if e.Offset > dirOffU || e.Len > dirOffU-e.Offset {
			return nil, fmt.Errorf("container: invalid range for section %d", e.ID)
		}
		sections[e.ID] = e
	}

	return &Container{
		CodecName: string(nameBytes),
		SRID:      srid,
		r:         r,
		sections:  sections,
	}, nil
}

// Has reports whether the container holds a section with the given id.
func (c *Container) Has(id uint16) bool {
	_, ok := c.sections[id]
	return ok
}

// Section reads, verifies and (if needed) decompresses one section payload.
func (c *Container) Section(id uint16) ([]byte, error) {
	e, ok := c.sections[id]
	if !ok {
		return nil, fmt.Errorf("container: missing section %d", id)
	}

	if _, err := c.r.Seek(int64(e.Offset), io.SeekStart); err != nil {
		return nil, err
	}
	stored := make([]byte, e.Len)
	if _, err := io.ReadFull(c.r, stored); err != nil {
		return nil, fmt.Errorf("container: failed to read section %d: %w", id, err)
	}

	if actual := ComputeChecksum(stored); actual != e.Checksum {
		return nil, &ChecksumMismatchError{Expected: e.Checksum, Actual: actual}
	}

	if e.Flags&sectionFlagLZ4 == 0 {
		return stored, nil
	}

	raw := make([]byte, e.RawLen)
	zr := lz4.NewReader(bytes.NewReader(stored))
	if _, err := io.ReadFull(zr, raw); err != nil {
		return nil, fmt.Errorf("container: failed to decompress section %d: %w", id, err)
	}
	return raw, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
