package table

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hupe1980/geoset/codec"
	"github.com/hupe1980/geoset/core"
)

// Save writes all image rows to w in sorted name order.
// Format: [Count: 4 bytes] [Row...]; Row: [Len: 4 bytes] [codec bytes].
// Callers layer framing and checksums on top.
func (s *Images) Save(w io.Writer, c codec.Codec) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(s.rows))); err != nil {
		return err
	}
	for _, name := range s.sortedNamesLocked() {
		if err := writeRow(bw, c, s.rows[name]); err != nil {
			return fmt.Errorf("encode image %q: %w", name, err)
		}
	}
	return bw.Flush()
}

// Load replaces the store contents with rows previously written by Save.
func (s *Images) Load(r io.Reader, c codec.Codec) error {
	br := bufio.NewReader(r)

	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	rows := make(map[string]*ImageRecord, count)
	for n := uint32(0); n < count; n++ {
		var rec ImageRecord
		if err := readRow(br, c, &rec); err != nil {
			return err
		}
		if rec.Name == "" {
			return fmt.Errorf("table: image row %d has no name", n)
		}
		if _, ok := rows[rec.Name]; ok {
			return fmt.Errorf("table: duplicate image %q", rec.Name)
		}
		rows[rec.Name] = &rec
	}

	s.mu.Lock()
	s.rows = rows
	s.mu.Unlock()
	return nil
}

// Save writes all polygon rows to w in sorted id order, including the
// derived img_count column. The class index and LocalIDs are per-process and
// rebuilt on load.
func (s *Polygons) Save(w io.Writer, c codec.Codec) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(s.rows))); err != nil {
		return err
	}
	for _, id := range s.sortedIDsLocked() {
		if err := writeRow(bw, c, s.rows[id]); err != nil {
			return fmt.Errorf("encode polygon %q: %w", id, err)
		}
	}
	return bw.Flush()
}

// Load replaces the store contents with rows previously written by Save.
func (s *Polygons) Load(r io.Reader, c codec.Codec) error {
	br := bufio.NewReader(r)

	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	rows := make(map[string]*PolygonRecord, count)
	order := make([]string, 0, count)
	for n := uint32(0); n < count; n++ {
		var rec PolygonRecord
		if err := readRow(br, c, &rec); err != nil {
			return err
		}
		if rec.ID == "" {
			return fmt.Errorf("table: polygon row %d has no id", n)
		}
		if _, ok := rows[rec.ID]; ok {
			return fmt.Errorf("table: duplicate polygon %q", rec.ID)
		}
		rows[rec.ID] = &rec
		order = append(order, rec.ID)
	}

	locals := make(map[string]core.LocalID, count)
	keys := make(map[core.LocalID]string, count)
	byClass := make(map[string]*core.Bitmap)
	for i, id := range order {
		local := core.LocalID(i)
		locals[id] = local
		keys[local] = id
		for _, class := range rows[id].Classes {
			bm, ok := byClass[class]
			if !ok {
				bm = core.NewBitmap()
				byClass[class] = bm
			}
			bm.Add(local)
		}
	}

	s.mu.Lock()
	s.rows = rows
	s.locals = locals
	s.keys = keys
	s.free = nil
	s.next = core.LocalID(count)
	s.byClass = byClass
	s.mu.Unlock()
	return nil
}

func writeRow(bw *bufio.Writer, c codec.Codec, row any) error {
	data, err := c.Marshal(row)
	if err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err = bw.Write(data)
	return err
}

func readRow(br *bufio.Reader, c codec.Codec, row any) error {
	var size uint32
	if err := binary.Read(br, binary.LittleEndian, &size); err != nil {
		return err
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(br, data); err != nil {
		return err
	}
	return c.Unmarshal(data, row)
}
