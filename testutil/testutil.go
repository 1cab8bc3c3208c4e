package testutil

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"

	"github.com/hupe1980/geoset/attr"
	"github.com/hupe1980/geoset/geometry"
	"github.com/hupe1980/geoset/table"
)

// World is the region record generators draw geometries from.
type World struct {
	SRID                   geometry.SRID
	MinX, MinY, MaxX, MaxY float64
}

// DefaultWorld spans a mid-latitude working area a few scenes wide.
var DefaultWorld = World{SRID: geometry.WGS84, MinX: 0, MinY: 40, MaxX: 20, MaxY: 55}

// Footprint side lengths, in world units. Images are scene-sized, polygons
// field-sized, so generated datasets have a realistic containment rate.
const (
	imageMinSide   = 1.0
	imageMaxSide   = 3.0
	polygonMinSide = 0.01
	polygonMaxSide = 0.1
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Rect returns a random axis-aligned rectangle inside the world whose side
// lengths fall in [minSide, maxSide).
func (r *RNG) Rect(w World, minSide, maxSide float64) geometry.Shape {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rectLocked(w, minSide, maxSide)
}

func (r *RNG) rectLocked(w World, minSide, maxSide float64) geometry.Shape {
	width := minSide + r.rand.Float64()*(maxSide-minSide)
	height := minSide + r.rand.Float64()*(maxSide-minSide)

	spanX := (w.MaxX - w.MinX) - width
	spanY := (w.MaxY - w.MinY) - height
	x := w.MinX + r.rand.Float64()*spanX
	y := w.MinY + r.rand.Float64()*spanY

	return geometry.Rect(w.SRID, x, y, x+width, y+height)
}

// Images generates num image records with scene-sized footprints scattered
// across the world. Names are sequential, so the same seed yields the same
// dataset.
func (r *RNG) Images(w World, num int) []table.ImageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs := make([]table.ImageRecord, num)
	for i := range recs {
		recs[i] = table.ImageRecord{
			Name:      fmt.Sprintf("img-%06d", i),
			Footprint: r.rectLocked(w, imageMinSide, imageMaxSide),
		}
	}
	return recs
}

// Polygons generates num polygon records with field-sized boundaries
// scattered across the world. Classes cycle through a small label set.
func (r *RNG) Polygons(w World, num int) []table.PolygonRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	classes := []string{"corn", "wheat", "soy", "fallow"}
	recs := make([]table.PolygonRecord, num)
	for i := range recs {
		recs[i] = table.PolygonRecord{
			ID:       fmt.Sprintf("poly-%06d", i),
			Boundary: r.rectLocked(w, polygonMinSide, polygonMaxSide),
			Classes:  []string{classes[i%len(classes)]},
		}
	}
	return recs
}

// ClusteredPolygons generates polygons packed into a number of small patches
// instead of spread uniformly. Clustered boundaries stress spatial index
// pruning the way real survey data does: most of the world is empty and a
// few areas are dense.
func (r *RNG) ClusteredPolygons(w World, num, clusters int) []table.PolygonRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Carve one patch per cluster, each a 2x2 unit box.
	patches := make([]World, clusters)
	for i := range patches {
		x := w.MinX + r.rand.Float64()*(w.MaxX-w.MinX-2)
		y := w.MinY + r.rand.Float64()*(w.MaxY-w.MinY-2)
		patches[i] = World{SRID: w.SRID, MinX: x, MinY: y, MaxX: x + 2, MaxY: y + 2}
	}

	recs := make([]table.PolygonRecord, num)
	for i := range recs {
		recs[i] = table.PolygonRecord{
			ID:       fmt.Sprintf("poly-%06d", i),
			Boundary: r.rectLocked(patches[i%clusters], polygonMinSide, polygonMaxSide),
			Classes:  []string{"field"},
		}
	}
	return recs
}

// ImageAttrs returns a random attribute document shaped like scene metadata:
// cloud_cover float, orbit int, platform string.
func (r *RNG) ImageAttrs() attr.Document {
	r.mu.Lock()
	defer r.mu.Unlock()

	platforms := []string{"S2A", "S2B", "L8", "L9"}
	return attr.Document{
		"cloud_cover": attr.Float(r.rand.Float64()),
		"orbit":       attr.Int(int64(r.rand.Intn(143) + 1)),
		"platform":    attr.String(platforms[r.rand.Intn(len(platforms))]),
	}
}

// Statuses assigns each of n images a pipeline station, weighted toward the
// common case of processed scenes.
func (r *RNG) Statuses(n int) []table.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]table.Status, n)
	for i := range out {
		switch v := r.rand.Float64(); {
		case v < 0.6:
			out[i] = table.StatusProcessed
		case v < 0.8:
			out[i] = table.StatusDownloaded
		case v < 0.95:
			out[i] = table.StatusPending
		default:
			out[i] = table.StatusFailed
		}
	}
	return out
}

// BruteForceContainment computes the exact containment edges by testing
// every image/polygon pair, without spatial pruning. It returns, per polygon
// id, the sorted names of images whose footprint contains its boundary.
// Polygons contained by no image map to a nil slice.
func BruteForceContainment(images []table.ImageRecord, polygons []table.PolygonRecord) map[string][]string {
	edges := make(map[string][]string, len(polygons))
	for _, p := range polygons {
		var names []string
		for _, img := range images {
			ok, err := geometry.Contains(img.Footprint, p.Boundary)
			if err != nil {
				continue
			}
			if ok {
				names = append(names, img.Name)
			}
		}
		slices.Sort(names)
		edges[p.ID] = names
	}
	return edges
}
