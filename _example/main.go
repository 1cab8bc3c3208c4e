package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/geoset"
	"github.com/hupe1980/geoset/attr"
	"github.com/hupe1980/geoset/testutil"
)

func main() {
	ctx := context.Background()

	seed := int64(4711)
	imageCount := 20000
	polygonCount := 50000

	dir, err := os.MkdirTemp("", "geoset-demo")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	a, err := geoset.Open(ctx, dir, geoset.WithLogLevel(slog.LevelWarn))
	if err != nil {
		log.Fatal(err)
	}

	rng := testutil.NewRNG(seed)
	polygons := rng.Polygons(testutil.DefaultWorld, polygonCount)
	images := rng.Images(testutil.DefaultWorld, imageCount)

	fmt.Println("--- Register ---")
	fmt.Println("Images:", imageCount)
	fmt.Println("Polygons:", polygonCount)

	start := time.Now()

	for _, rec := range polygons {
		if _, err := a.RegisterPolygon(ctx, rec); err != nil {
			log.Fatal(err)
		}
	}
	for _, rec := range images {
		rec.Attrs = rng.ImageAttrs()
		if _, err := a.RegisterImage(ctx, rec); err != nil {
			log.Fatal(err)
		}
	}

	fmt.Printf("Seconds: %.2f\n\n", time.Since(start).Seconds())

	stats := a.Stats()
	fmt.Println("--- Stats ---")
	fmt.Println("Images:", stats.Images)
	fmt.Println("Polygons:", stats.Polygons)
	fmt.Println("Edges:", stats.Edges)
	fmt.Println("Classes:", stats.Classes)
	fmt.Println()

	fmt.Println("--- Query ---")

	start = time.Now()

	covered := 0
	for _, p := range polygons[:1000] {
		names, err := a.ImagesContaining(ctx, p.ID)
		if err != nil {
			log.Fatal(err)
		}
		if len(names) > 0 {
			covered++
		}
	}

	fmt.Printf("Covered polygons (of first 1000): %d\n", covered)
	fmt.Printf("Seconds: %.4f\n\n", time.Since(start).Seconds())

	fmt.Println("--- Filter ---")

	usable := attr.NewFilterSet(attr.Filter{
		Key:      "cloud_cover",
		Operator: attr.OpLessThan,
		Value:    attr.Float(0.1),
	})

	start = time.Now()
	matches := a.FilterImages(usable)
	fmt.Printf("Images under 10%% cloud: %d\n", len(matches))
	fmt.Printf("Seconds: %.4f\n\n", time.Since(start).Seconds())

	fmt.Println("--- Recompute ---")

	start = time.Now()
	if err := a.RecomputeContainments(ctx); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Seconds: %.2f\n\n", time.Since(start).Seconds())

	fmt.Println("--- Check ---")

	start = time.Now()
	report, err := a.Check(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("Report:", report)
	fmt.Printf("Seconds: %.4f\n\n", time.Since(start).Seconds())

	fmt.Println("--- Commit & Reopen ---")

	start = time.Now()
	if err := a.Commit(ctx); err != nil {
		log.Fatal(err)
	}
	if err := a.Close(); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Commit seconds: %.2f\n", time.Since(start).Seconds())

	start = time.Now()
	b, err := geoset.Open(ctx, dir, geoset.WithLogLevel(slog.LevelWarn))
	if err != nil {
		log.Fatal(err)
	}
	defer b.Close()
	fmt.Printf("Reopen seconds: %.2f\n", time.Since(start).Seconds())

	if got := b.Stats(); got != stats {
		log.Fatalf("reopened stats diverge: %+v != %+v", got, stats)
	}
	fmt.Println("Reopened dataset matches.")
}
