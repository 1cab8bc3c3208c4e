package graph

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hupe1980/geoset/core"
)

// Save persists the graph to w.
// Format: [ImageCount: 4 bytes] [Vertex...] [PolygonCount: 4 bytes] [Vertex...]
//
//	[AdjacencyCount: 4 bytes] [Adjacency...]
//
// Vertex: [NameLen: 4 bytes] [Name] [LocalID: 4 bytes]
// Adjacency: [ImageLocalID: 4 bytes] [Roaring bitmap, portable format]
//
// Only the image-side adjacency is written; the polygon side is rebuilt as
// its mirror on load. Callers layer framing and checksums on top.
func (g *Bipartite) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)

	if err := saveSide(bw, g.images); err != nil {
		return err
	}
	if err := saveSide(bw, g.polygons); err != nil {
		return err
	}

	nonEmpty := uint32(0)
	for _, bm := range g.byImage {
		if !bm.IsEmpty() {
			nonEmpty++
		}
	}
	if err := binary.Write(bw, binary.LittleEndian, nonEmpty); err != nil {
		return err
	}
	for id, bm := range g.byImage {
		if bm.IsEmpty() {
			continue
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(id)); err != nil {
			return err
		}
		if _, err := bm.WriteTo(bw); err != nil {
			return err
		}
	}

	return bw.Flush()
}

func saveSide(bw *bufio.Writer, s *side) error {
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(s.byName))); err != nil {
		return err
	}
	for name, id := range s.byName {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(name))); err != nil {
			return err
		}
		if _, err := bw.WriteString(name); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(id)); err != nil {
			return err
		}
	}
	return nil
}

// Load replaces the graph contents with a snapshot previously written by
// Save. Freelists and the polygon-side adjacency are reconstructed rather
// than stored.
func (g *Bipartite) Load(r io.Reader) error {
	br := bufio.NewReader(r)

	images, err := loadSide(br, KindImage)
	if err != nil {
		return err
	}
	polygons, err := loadSide(br, KindPolygon)
	if err != nil {
		return err
	}

	byImage := make(map[core.LocalID]*core.Bitmap, len(images.byName))
	byPolygon := make(map[core.LocalID]*core.Bitmap, len(polygons.byName))
	for id := range images.names {
		byImage[id] = core.NewBitmap()
	}
	for id := range polygons.names {
		byPolygon[id] = core.NewBitmap()
	}

	var adjCount uint32
	if err := binary.Read(br, binary.LittleEndian, &adjCount); err != nil {
		return err
	}

	var edges uint64
	for n := uint32(0); n < adjCount; n++ {
		var raw uint32
		if err := binary.Read(br, binary.LittleEndian, &raw); err != nil {
			return err
		}
		id := core.LocalID(raw)
		bm, ok := byImage[id]
		if !ok {
			return fmt.Errorf("graph: adjacency references unknown image id %d", id)
		}
		if _, err := bm.ReadFrom(br); err != nil {
			return fmt.Errorf("graph: read adjacency bitmap: %w", err)
		}
		for p := range bm.Iterator() {
			mirror, ok := byPolygon[p]
			if !ok {
				return fmt.Errorf("graph: adjacency references unknown polygon id %d", p)
			}
			mirror.Add(id)
		}
		edges += bm.Cardinality()
	}

	g.images = images
	g.polygons = polygons
	g.byImage = byImage
	g.byPolygon = byPolygon
	g.edges = edges
	return nil
}

func loadSide(br *bufio.Reader, kind Kind) (*side, error) {
	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	s := newSide()
	var maxID core.LocalID
	for n := uint32(0); n < count; n++ {
		var nameLen uint32
		if err := binary.Read(br, binary.LittleEndian, &nameLen); err != nil {
			return nil, err
		}
		nameBytes := make([]byte, nameLen)
		if _, err := io.ReadFull(br, nameBytes); err != nil {
			return nil, err
		}
		var raw uint32
		if err := binary.Read(br, binary.LittleEndian, &raw); err != nil {
			return nil, err
		}

		name := string(nameBytes)
		id := core.LocalID(raw)
		if _, ok := s.byName[name]; ok {
			return nil, fmt.Errorf("graph: duplicate %s %q", kind, name)
		}
		if _, ok := s.names[id]; ok {
			return nil, fmt.Errorf("graph: duplicate %s id %d", kind, id)
		}
		s.byName[name] = id
		s.names[id] = name
		if id >= maxID {
			maxID = id + 1
		}
	}

	// Recycle the gaps below the high-water mark.
	s.next = maxID
	if int(maxID) > len(s.names) {
		for id := core.LocalID(0); id < maxID; id++ {
			if _, used := s.names[id]; !used {
				s.free = append(s.free, id)
			}
		}
	}
	return s, nil
}
