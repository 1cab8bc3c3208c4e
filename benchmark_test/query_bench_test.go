package benchmark_test

import (
	"context"
	"testing"

	"github.com/hupe1980/geoset"
	"github.com/hupe1980/geoset/attr"
	"github.com/hupe1980/geoset/testutil"
)

func BenchmarkImagesContaining(b *testing.B) {
	b.ReportAllocs()
	ctx := context.Background()

	a := geoset.New()
	defer a.Close()

	_, polygons := populate(b, a, 10000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := a.ImagesContaining(ctx, polygons[i%len(polygons)].ID); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPolygonsContainedIn(b *testing.B) {
	b.ReportAllocs()
	ctx := context.Background()

	a := geoset.New()
	defer a.Close()

	images, _ := populate(b, a, 10000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := a.PolygonsContainedIn(ctx, images[i%len(images)].Name); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkImageCount(b *testing.B) {
	b.ReportAllocs()
	ctx := context.Background()

	a := geoset.New()
	defer a.Close()

	_, polygons := populate(b, a, 10000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := a.ImageCount(ctx, polygons[i%len(polygons)].ID); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFilterImages(b *testing.B) {
	b.ReportAllocs()
	ctx := context.Background()

	a := geoset.New()
	defer a.Close()

	rng := testutil.NewRNG(1)
	for _, rec := range rng.Images(testutil.DefaultWorld, 10000) {
		rec.Attrs = rng.ImageAttrs()
		if _, err := a.RegisterImage(ctx, rec); err != nil {
			b.Fatal(err)
		}
	}

	fs := attr.NewFilterSet(attr.Filter{
		Key:      "cloud_cover",
		Operator: attr.OpLessThan,
		Value:    attr.Float(0.1),
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if recs := a.FilterImages(fs); len(recs) == 0 {
			b.Fatal("filter matched nothing")
		}
	}
}

func BenchmarkStats(b *testing.B) {
	b.ReportAllocs()

	a := geoset.New()
	defer a.Close()

	populate(b, a, 10000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if s := a.Stats(); s.Images == 0 {
			b.Fatal("empty stats")
		}
	}
}
