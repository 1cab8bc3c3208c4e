package geoset

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/hupe1980/geoset/attr"
	"github.com/hupe1980/geoset/codec"
	"github.com/hupe1980/geoset/geometry"
	"github.com/hupe1980/geoset/table"
)

// Kind selects which table a GeoJSON interchange operation works on.
type Kind string

const (
	// KindImages selects the image table.
	KindImages Kind = "images"
	// KindPolygons selects the polygon table.
	KindPolygons Kind = "polygons"
)

// ExportGeoJSON writes one table as a GeoJSON FeatureCollection, ordered by
// key. Record fields become feature properties; attribute documents nest
// under an "attrs" property in their tagged form, so an export/import round
// trip preserves their types.
func (a *Associator) ExportGeoJSON(ctx context.Context, w io.Writer, kind Kind) error {
	fc := geojson.NewFeatureCollection()
	count := 0

	switch kind {
	case KindImages:
		for rec := range a.eng.Images() {
			f := geojson.NewFeature(rec.Footprint.Geom)
			f.ID = rec.Name
			f.Properties["name"] = rec.Name
			f.Properties["status"] = string(rec.Status)
			if !rec.AcquiredAt.IsZero() {
				f.Properties["acquired_at"] = rec.AcquiredAt.Format(time.RFC3339)
			}
			if len(rec.Attrs) > 0 {
				f.Properties["attrs"] = rec.Attrs
			}
			fc.Append(f)
			count++
		}
	case KindPolygons:
		for rec := range a.eng.Polygons() {
			f := geojson.NewFeature(rec.Boundary.Geom)
			f.ID = rec.ID
			f.Properties["id"] = rec.ID
			f.Properties["classes"] = rec.Classes
			f.Properties["img_count"] = rec.ImgCount
			if len(rec.Attrs) > 0 {
				f.Properties["attrs"] = rec.Attrs
			}
			fc.Append(f)
			count++
		}
	default:
		return fmt.Errorf("geoset: unknown export kind %q", kind)
	}

	data, err := fc.MarshalJSON()
	if err == nil {
		_, err = w.Write(data)
	}

	a.logger.LogExport(ctx, string(kind), count, err)

	return err
}

// ImportGeoJSON registers every feature of a GeoJSON FeatureCollection as an
// image or polygon record and returns how many were registered. Each feature
// goes through the standard registration path, so containment edges and
// counts are maintained and an invalid feature aborts the import with the
// features before it already applied.
//
// Geometries are taken to be in the dataset's reference system; GeoJSON
// itself does not carry one.
func (a *Associator) ImportGeoJSON(ctx context.Context, r io.Reader, kind Kind) (int, error) {
	n, err := a.importGeoJSON(ctx, r, kind)

	a.logger.LogImport(ctx, string(kind), n, err)

	return n, err
}

func (a *Associator) importGeoJSON(ctx context.Context, r io.Reader, kind Kind) (int, error) {
	if kind != KindImages && kind != KindPolygons {
		return 0, fmt.Errorf("geoset: unknown import kind %q", kind)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("geoset: read import: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return 0, fmt.Errorf("geoset: decode import: %w", err)
	}

	n := 0
	for i, f := range fc.Features {
		if kind == KindImages {
			err = a.importImage(ctx, f)
		} else {
			err = a.importPolygon(ctx, f)
		}
		if err != nil {
			return n, fmt.Errorf("geoset: import feature %d: %w", i, translateError(err))
		}
		n++
	}

	return n, nil
}

func (a *Associator) importImage(ctx context.Context, f *geojson.Feature) error {
	name := featureKey(f, "name")
	if name == "" {
		return fmt.Errorf("missing name")
	}

	rec := table.ImageRecord{
		Name:      name,
		Footprint: geometry.NewShape(f.Geometry, a.eng.SRID()),
	}

	if s, ok := f.Properties["status"].(string); ok {
		rec.Status = table.Status(s)
	}
	if s, ok := f.Properties["acquired_at"].(string); ok {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("acquired_at: %w", err)
		}
		rec.AcquiredAt = t
	}

	attrs, err := decodeAttrs(a.codec, f.Properties["attrs"])
	if err != nil {
		return fmt.Errorf("attrs: %w", err)
	}
	rec.Attrs = attrs

	a.commitMu.RLock()
	_, err = a.eng.RegisterImage(ctx, rec)
	a.commitMu.RUnlock()
	return err
}

func (a *Associator) importPolygon(ctx context.Context, f *geojson.Feature) error {
	id := featureKey(f, "id")
	if id == "" {
		return fmt.Errorf("missing id")
	}

	rec := table.PolygonRecord{
		ID:       id,
		Boundary: geometry.NewShape(f.Geometry, a.eng.SRID()),
	}

	if raw, ok := f.Properties["classes"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				rec.Classes = append(rec.Classes, s)
			}
		}
	}

	attrs, err := decodeAttrs(a.codec, f.Properties["attrs"])
	if err != nil {
		return fmt.Errorf("attrs: %w", err)
	}
	rec.Attrs = attrs

	a.commitMu.RLock()
	_, err = a.eng.RegisterPolygon(ctx, rec)
	a.commitMu.RUnlock()
	return err
}

// featureKey pulls the record key from the named property, falling back to
// the feature ID.
func featureKey(f *geojson.Feature, prop string) string {
	if s, ok := f.Properties[prop].(string); ok && s != "" {
		return s
	}
	if s, ok := f.ID.(string); ok {
		return s
	}
	return ""
}

// decodeAttrs rebuilds a typed attribute document from the generic value the
// GeoJSON decoder produced for the "attrs" property.
func decodeAttrs(c codec.Codec, v any) (attr.Document, error) {
	if v == nil {
		return nil, nil
	}

	raw, err := c.Marshal(v)
	if err != nil {
		return nil, err
	}

	var doc attr.Document
	if err := c.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
