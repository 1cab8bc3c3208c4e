package table

import (
	"slices"
	"time"

	"github.com/hupe1980/geoset/attr"
	"github.com/hupe1980/geoset/geometry"
)

// Status tracks where an image sits in the acquisition pipeline. The values
// below are the conventional stations; collaborators may introduce their own.
type Status string

const (
	// StatusPending marks an image known to the dataset but not yet
	// materialized on disk.
	StatusPending Status = "pending"
	// StatusDownloaded marks an image whose raster has been fetched.
	StatusDownloaded Status = "downloaded"
	// StatusProcessed marks an image that has been cut/converted into its
	// final dataset form.
	StatusProcessed Status = "processed"
	// StatusFailed marks an image whose download or processing failed.
	StatusFailed Status = "failed"
)

// ImageRecord is one row of the image table.
type ImageRecord struct {
	Name       string         `json:"name"`
	Footprint  geometry.Shape `json:"footprint"`
	Status     Status         `json:"status"`
	AcquiredAt time.Time      `json:"acquired_at"`
	Attrs      attr.Document  `json:"attrs,omitempty"`
}

// Clone returns a deep copy of the record.
func (r ImageRecord) Clone() ImageRecord {
	r.Footprint = r.Footprint.Clone()
	r.Attrs = r.Attrs.Clone()
	return r
}

// PolygonRecord is one row of the polygon table.
//
// ImgCount is derived state: the number of images whose footprint fully
// contains the boundary, maintained by the engine from its containment
// graph. Values supplied by callers on upsert are ignored.
type PolygonRecord struct {
	ID       string         `json:"id"`
	Boundary geometry.Shape `json:"boundary"`
	Classes  []string       `json:"classes,omitempty"`
	ImgCount int            `json:"img_count"`
	Attrs    attr.Document  `json:"attrs,omitempty"`
}

// Clone returns a deep copy of the record.
func (r PolygonRecord) Clone() PolygonRecord {
	r.Boundary = r.Boundary.Clone()
	r.Classes = slices.Clone(r.Classes)
	r.Attrs = r.Attrs.Clone()
	return r
}

// NamedShape pairs a row key with its geometry. Shapes accessors return
// these without copying; callers must not mutate the shape.
type NamedShape struct {
	Name  string
	Shape geometry.Shape
}
