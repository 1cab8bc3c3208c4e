package geoset

import (
	"context"

	"github.com/hupe1980/geoset/attr"
	"github.com/hupe1980/geoset/blobstore"
	"github.com/hupe1980/geoset/codec"
	"github.com/hupe1980/geoset/geometry"
	"github.com/hupe1980/geoset/persistence"
	"github.com/hupe1980/geoset/resource"
	"github.com/hupe1980/geoset/wal"
)

// NewBuilder creates a dataset builder.
//
// The builder is immutable - each method returns a new builder with the
// updated configuration. This ensures thread-safety and prevents accidental
// state sharing. The terminal methods mirror New, Open and OpenStore.
//
// Example:
//
//	as, err := geoset.NewBuilder().
//	    SRID(geometry.WGS84).
//	    Workers(8).
//	    Journal(func(o *wal.Options) {
//	        o.DurabilityMode = wal.DurabilityGroupCommit
//	    }).
//	    Open(ctx, "./dataset")
func NewBuilder() Builder {
	return Builder{}
}

// Builder is an immutable fluent builder for creating Associator instances.
// Each method returns a new builder with the updated configuration.
//
// Unset fields keep the defaults of the corresponding functional option, so
// an empty builder behaves exactly like calling the constructors with no
// options.
type Builder struct {
	srid          geometry.SRID
	codec         codec.Codec
	imageSchema   attr.Schema
	polygonSchema attr.Schema
	workers       int
	compression   *persistence.Compression
	metrics       MetricsCollector
	logger        *Logger
	walOptions    []func(*wal.Options)
	controller    *resource.Controller
}

// SRID fixes the spatial reference system of the dataset.
func (b Builder) SRID(srid geometry.SRID) Builder {
	b.srid = srid
	return b
}

// Codec sets the codec used for snapshot sections and journal payloads.
func (b Builder) Codec(c codec.Codec) Builder {
	b.codec = c
	return b
}

// ImageSchema declares the attribute columns image records may carry.
func (b Builder) ImageSchema(s attr.Schema) Builder {
	b.imageSchema = s
	return b
}

// PolygonSchema declares the attribute columns polygon records may carry.
func (b Builder) PolygonSchema(s attr.Schema) Builder {
	b.polygonSchema = s
	return b
}

// Workers sets the number of goroutines used by containment recomputation.
func (b Builder) Workers(n int) Builder {
	b.workers = n
	return b
}

// SnapshotCompression selects the per-section compression applied to
// snapshot containers.
func (b Builder) SnapshotCompression(c persistence.Compression) Builder {
	b.compression = &c
	return b
}

// Journal tunes the journal of a local dataset. Only used by Open;
// in-memory and object-store datasets carry no journal.
func (b Builder) Journal(optFns ...func(*wal.Options)) Builder {
	b.walOptions = optFns
	return b
}

// Logger sets the structured logger for operation tracing.
func (b Builder) Logger(l *Logger) Builder {
	b.logger = l
	return b
}

// Metrics sets the metrics collector for monitoring.
func (b Builder) Metrics(mc MetricsCollector) Builder {
	b.metrics = mc
	return b
}

// ResourceController bounds the concurrency and IO throughput of background
// work.
func (b Builder) ResourceController(rc *resource.Controller) Builder {
	b.controller = rc
	return b
}

// Build creates an in-memory Associator from the builder configuration.
func (b Builder) Build() *Associator {
	return New(b.options()...)
}

// Open creates or reopens the dataset rooted at dir, applying the builder
// configuration.
func (b Builder) Open(ctx context.Context, dir string) (*Associator, error) {
	return Open(ctx, dir, b.options()...)
}

// OpenStore creates or reopens a dataset persisted in store, applying the
// builder configuration.
func (b Builder) OpenStore(ctx context.Context, store blobstore.BlobStore) (*Associator, error) {
	return OpenStore(ctx, store, b.options()...)
}

func (b Builder) options() []Option {
	var optFns []Option
	if b.srid != 0 {
		optFns = append(optFns, WithSRID(b.srid))
	}
	if b.codec != nil {
		optFns = append(optFns, WithCodec(b.codec))
	}
	if b.imageSchema != nil {
		optFns = append(optFns, WithImageSchema(b.imageSchema))
	}
	if b.polygonSchema != nil {
		optFns = append(optFns, WithPolygonSchema(b.polygonSchema))
	}
	if b.workers > 0 {
		optFns = append(optFns, WithWorkers(b.workers))
	}
	if b.compression != nil {
		optFns = append(optFns, WithSnapshotCompression(*b.compression))
	}
	if b.metrics != nil {
		optFns = append(optFns, WithMetricsCollector(b.metrics))
	}
	if b.logger != nil {
		optFns = append(optFns, WithLogger(b.logger))
	}
	if len(b.walOptions) > 0 {
		optFns = append(optFns, WithWALOptions(b.walOptions...))
	}
	if b.controller != nil {
		optFns = append(optFns, WithResourceController(b.controller))
	}
	return optFns
}
