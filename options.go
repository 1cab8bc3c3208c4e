package geoset

import (
	"log/slog"
	"runtime"

	"github.com/hupe1980/geoset/attr"
	"github.com/hupe1980/geoset/codec"
	"github.com/hupe1980/geoset/geometry"
	"github.com/hupe1980/geoset/persistence"
	"github.com/hupe1980/geoset/resource"
	"github.com/hupe1980/geoset/wal"
)

type options struct {
	srid             geometry.SRID
	codec            codec.Codec
	imageSchema      attr.Schema
	polygonSchema    attr.Schema
	workers          int
	compression      persistence.Compression
	metricsCollector MetricsCollector
	logger           *Logger
	walOptions       []func(*wal.Options)
	controller       *resource.Controller
}

// Option configures Associator constructor/open behavior.
type Option func(*options)

// WithSRID fixes the spatial reference system of the dataset. Every shape
// registered must carry this SRID.
//
// Opening an existing dataset with a different SRID than it was created with
// fails with *ErrCRSMismatch. If unset, new datasets use geometry.WGS84 and
// existing datasets keep the SRID recorded in their manifest.
func WithSRID(srid geometry.SRID) Option {
	return func(o *options) {
		o.srid = srid
	}
}

// WithCodec configures the codec used for snapshot sections and journal
// payloads.
//
// If nil is passed, codec.Default is used. Existing datasets default to the
// codec recorded in their manifest.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithImageSchema declares the attribute columns image records may carry.
// Registrations with undeclared or mistyped attributes are rejected.
// Without a schema, arbitrary attributes are accepted.
func WithImageSchema(s attr.Schema) Option {
	return func(o *options) {
		o.imageSchema = s
	}
}

// WithPolygonSchema declares the attribute columns polygon records may carry.
func WithPolygonSchema(s attr.Schema) Option {
	return func(o *options) {
		o.polygonSchema = s
	}
}

// WithWorkers sets the number of goroutines used by containment
// recomputation. Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithSnapshotCompression selects the per-section compression applied to
// snapshot containers. Defaults to persistence.CompressionLZ4; pass
// persistence.CompressionNone for raw sections.
func WithSnapshotCompression(c persistence.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithWALOptions tunes the journal of a local dataset (durability mode,
// group-commit window, auto-checkpoint thresholds). Only used by Open;
// in-memory and object-store datasets carry no journal.
//
// Example:
//
//	as, _ := geoset.Open(ctx, dir, geoset.WithWALOptions(func(o *wal.Options) {
//	    o.DurabilityMode = wal.DurabilityGroupCommit
//	    o.AutoCheckpointOps = 50000
//	}))
func WithWALOptions(optFns ...func(*wal.Options)) Option {
	return func(o *options) {
		o.walOptions = append(o.walOptions, optFns...)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &geoset.BasicMetricsCollector{}
//	as := geoset.New(geoset.WithMetricsCollector(metrics))
//	// ... use as ...
//	stats := metrics.GetStats()
//	fmt.Printf("Registers: %d, Avg latency: %dns\n", stats.RegisterCount, stats.RegisterAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := geoset.NewJSONLogger(slog.LevelInfo)
//	as := geoset.New(geoset.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithResourceController bounds the concurrency and IO throughput of
// background work (snapshot writes, automatic checkpoints). A nil controller
// enforces nothing.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.controller = rc
	}
}

func applyOptions(optFns []Option) options {
	// codec and srid stay unset here so Open can adopt the values recorded
	// in an existing dataset's manifest.
	o := options{
		workers:          runtime.GOMAXPROCS(0),
		compression:      persistence.CompressionLZ4,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
