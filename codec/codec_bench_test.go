package codec

import (
	"testing"

	"github.com/hupe1980/geoset/attr"
)

type benchRing struct {
	Points [][2]float64 `json:"points"`
}

type benchRecord struct {
	Name       string            `json:"name"`
	Status     string            `json:"status"`
	AcquiredAt string            `json:"acquired_at"`
	Classes    []string          `json:"classes"`
	ImgCount   int               `json:"img_count"`
	Props      map[string]string `json:"props"`
	Footprint  benchRing         `json:"footprint"`
}

func benchmarkCodecMarshal(b *testing.B, c Codec, v any) {
	b.Helper()
	b.ReportAllocs()

	warm, err := c.Marshal(v)
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(warm)))

	var sink []byte
	b.ResetTimer()
	for b.Loop() {
		out, err := c.Marshal(v)
		if err != nil {
			b.Fatal(err)
		}
		sink = out
	}
	_ = sink
}

func benchmarkCodecUnmarshal[T any](b *testing.B, c Codec, data []byte, dst *T) {
	b.Helper()
	b.ReportAllocs()
	b.SetBytes(int64(len(data)))

	var v T
	b.ResetTimer()
	for b.Loop() {
		if err := c.Unmarshal(data, &v); err != nil {
			b.Fatal(err)
		}
	}
	if dst != nil {
		*dst = v
	}
}

func benchRecordFixture() benchRecord {
	return benchRecord{
		Name:       "S2A_MSIL2A_20240613T101031_T32UQD",
		Status:     "processed",
		AcquiredAt: "2024-06-13T10:10:31Z",
		Classes:    []string{"field", "forest", "water", "urban"},
		ImgCount:   3,
		Props: map[string]string{
			"sensor":   "sentinel-2",
			"tile":     "T32UQD",
			"level":    "L2A",
			"provider": "esa",
		},
		Footprint: benchRing{
			Points: [][2]float64{{10.3, 51.2}, {11.4, 51.2}, {11.4, 52.3}, {10.3, 52.3}, {10.3, 51.2}},
		},
	}
}

func BenchmarkCodec_Marshal_Record(b *testing.B) {
	rec := benchRecordFixture()

	b.Run("stdlib", func(b *testing.B) { benchmarkCodecMarshal(b, JSON{}, rec) })
	b.Run("go-json", func(b *testing.B) { benchmarkCodecMarshal(b, GoJSON{}, rec) })
}

func BenchmarkCodec_Unmarshal_Record(b *testing.B) {
	jsonData := MustMarshal(JSON{}, benchRecordFixture())

	b.Run("stdlib", func(b *testing.B) {
		var sink benchRecord
		benchmarkCodecUnmarshal(b, JSON{}, jsonData, &sink)
		_ = sink
	})
	b.Run("go-json", func(b *testing.B) {
		var sink benchRecord
		benchmarkCodecUnmarshal(b, GoJSON{}, jsonData, &sink)
		_ = sink
	})
}

func benchAttrsFixture() attr.Document {
	return attr.Document{
		"sensor":      attr.String("sentinel-2"),
		"cloud_cover": attr.Float(12.5),
		"orbit":       attr.Int(118),
		"valid":       attr.Bool(true),
		"classes":     attr.Strings("field", "forest", "water"),
		"bands":       attr.Array([]attr.Value{attr.Int(2), attr.Int(3), attr.Int(4), attr.Int(8)}),
	}
}

func BenchmarkCodec_Marshal_Attrs(b *testing.B) {
	doc := benchAttrsFixture()

	b.Run("stdlib", func(b *testing.B) { benchmarkCodecMarshal(b, JSON{}, doc) })
	b.Run("go-json", func(b *testing.B) { benchmarkCodecMarshal(b, GoJSON{}, doc) })
}

func BenchmarkCodec_Unmarshal_Attrs(b *testing.B) {
	jsonData := MustMarshal(JSON{}, benchAttrsFixture())

	b.Run("stdlib", func(b *testing.B) {
		var sink attr.Document
		benchmarkCodecUnmarshal(b, JSON{}, jsonData, &sink)
		_ = sink
	})
	b.Run("go-json", func(b *testing.B) {
		var sink attr.Document
		benchmarkCodecUnmarshal(b, GoJSON{}, jsonData, &sink)
		_ = sink
	})
}
