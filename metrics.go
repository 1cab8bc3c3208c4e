package geoset

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    registerCounter prometheus.Counter
//	    queryHistogram  prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordRegister(duration time.Duration, err error) {
//	    p.registerCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordRegister is called after each image or polygon registration.
	// duration is the total time taken, err is nil if successful.
	RecordRegister(duration time.Duration, err error)

	// RecordRemove is called after each image or polygon removal.
	RecordRemove(duration time.Duration, err error)

	// RecordUpdate is called after each status update.
	RecordUpdate(duration time.Duration, err error)

	// RecordQuery is called after each containment query or filter scan.
	RecordQuery(duration time.Duration, err error)

	// RecordRecompute is called after each full containment recomputation.
	RecordRecompute(duration time.Duration, err error)

	// RecordMerge is called after each dataset merge. added and skipped are
	// the row totals across both tables.
	RecordMerge(added, skipped int, duration time.Duration)

	// RecordCommit is called after each snapshot commit.
	RecordCommit(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordRegister(time.Duration, error)  {}
func (NoopMetricsCollector) RecordRemove(time.Duration, error)    {}
func (NoopMetricsCollector) RecordUpdate(time.Duration, error)    {}
func (NoopMetricsCollector) RecordQuery(time.Duration, error)     {}
func (NoopMetricsCollector) RecordRecompute(time.Duration, error) {}
func (NoopMetricsCollector) RecordMerge(int, int, time.Duration)  {}
func (NoopMetricsCollector) RecordCommit(time.Duration, error)    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	RegisterCount      atomic.Int64
	RegisterErrors     atomic.Int64
	RegisterTotalNanos atomic.Int64
	RemoveCount        atomic.Int64
	RemoveErrors       atomic.Int64
	UpdateCount        atomic.Int64
	UpdateErrors       atomic.Int64
	QueryCount         atomic.Int64
	QueryErrors        atomic.Int64
	QueryTotalNanos    atomic.Int64
	RecomputeCount     atomic.Int64
	RecomputeErrors    atomic.Int64
	MergeCount         atomic.Int64
	MergeItems         atomic.Int64
	MergeSkipped       atomic.Int64
	CommitCount        atomic.Int64
	CommitErrors       atomic.Int64
}

// RecordRegister implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRegister(duration time.Duration, err error) {
	b.RegisterCount.Add(1)
	b.RegisterTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RegisterErrors.Add(1)
	}
}

// RecordRemove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemove(duration time.Duration, err error) {
	b.RemoveCount.Add(1)
	if err != nil {
		b.RemoveErrors.Add(1)
	}
}

// RecordUpdate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpdate(duration time.Duration, err error) {
	b.UpdateCount.Add(1)
	if err != nil {
		b.UpdateErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordRecompute implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRecompute(duration time.Duration, err error) {
	b.RecomputeCount.Add(1)
	if err != nil {
		b.RecomputeErrors.Add(1)
	}
}

// RecordMerge implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMerge(added, skipped int, duration time.Duration) {
	b.MergeCount.Add(1)
	b.MergeItems.Add(int64(added))
	b.MergeSkipped.Add(int64(skipped))
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(duration time.Duration, err error) {
	b.CommitCount.Add(1)
	if err != nil {
		b.CommitErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		RegisterCount:    b.RegisterCount.Load(),
		RegisterErrors:   b.RegisterErrors.Load(),
		RegisterAvgNanos: b.getAvgRegisterNanos(),
		RemoveCount:      b.RemoveCount.Load(),
		RemoveErrors:     b.RemoveErrors.Load(),
		UpdateCount:      b.UpdateCount.Load(),
		UpdateErrors:     b.UpdateErrors.Load(),
		QueryCount:       b.QueryCount.Load(),
		QueryErrors:      b.QueryErrors.Load(),
		QueryAvgNanos:    b.getAvgQueryNanos(),
		RecomputeCount:   b.RecomputeCount.Load(),
		RecomputeErrors:  b.RecomputeErrors.Load(),
		MergeCount:       b.MergeCount.Load(),
		MergeItems:       b.MergeItems.Load(),
		MergeSkipped:     b.MergeSkipped.Load(),
		CommitCount:      b.CommitCount.Load(),
		CommitErrors:     b.CommitErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgRegisterNanos() int64 {
	count := b.RegisterCount.Load()
	if count == 0 {
		return 0
	}
	return b.RegisterTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgQueryNanos() int64 {
	count := b.QueryCount.Load()
	if count == 0 {
		return 0
	}
	return b.QueryTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	RegisterCount    int64
	RegisterErrors   int64
	RegisterAvgNanos int64
	RemoveCount      int64
	RemoveErrors     int64
	UpdateCount      int64
	UpdateErrors     int64
	QueryCount       int64
	QueryErrors      int64
	QueryAvgNanos    int64
	RecomputeCount   int64
	RecomputeErrors  int64
	MergeCount       int64
	MergeItems       int64
	MergeSkipped     int64
	CommitCount      int64
	CommitErrors     int64
}
