// Package metrics defines the per-subsystem Prometheus instruments.
// Each subsystem gets its own bundle so packages depend only on the
// counters they touch; everything registers against one private
// registry exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewRegistry returns a private registry preloaded with the standard
// process and runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return reg
}

// Gateway instruments the push/pull/stream path.
type Gateway struct {
	Pushes         prometheus.Counter
	DeltasIngested prometheus.Counter
	DedupHits      prometheus.Counter
	Backpressure   prometheus.Counter
	Pulls          prometheus.Counter
	BufferBytes    prometheus.Gauge
	Subscribers    prometheus.Gauge
}

func NewGateway(reg prometheus.Registerer) *Gateway {
	var m Gateway

	m.Pushes = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_gateway_pushes_total",
		Help: "Total number of push requests accepted for ingestion.",
	})
	m.DeltasIngested = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_gateway_deltas_ingested_total",
		Help: "Total number of deltas appended to the buffer.",
	})
	m.DedupHits = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_gateway_dedup_hits_total",
		Help: "Total number of deltas skipped as already-seen duplicates.",
	})
	m.Backpressure = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_gateway_backpressure_rejections_total",
		Help: "Total number of pushes rejected because the buffer was full.",
	})
	m.Pulls = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_gateway_pulls_total",
		Help: "Total number of pull requests served.",
	})
	m.BufferBytes = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name: "lakegate_gateway_buffer_bytes",
		Help: "Estimated bytes currently staged in the delta buffer.",
	})
	m.Subscribers = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name: "lakegate_gateway_stream_subscribers",
		Help: "Currently connected stream subscribers.",
	})

	return &m
}

// Flush instruments the flush coordinator.
type Flush struct {
	Flushes  prometheus.Counter
	Failures prometheus.Counter
	Bytes    prometheus.Counter
	Duration prometheus.Histogram
}

func NewFlush(reg prometheus.Registerer) *Flush {
	var m Flush

	m.Flushes = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_flush_total",
		Help: "Total number of successful flushes.",
	})
	m.Failures = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_flush_failures_total",
		Help: "Total number of failed flushes.",
	})
	m.Bytes = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_flush_bytes_total",
		Help: "Total bytes written by flushes.",
	})
	m.Duration = promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
		Name:    "lakegate_flush_duration_seconds",
		Help:    "Time taken by one flush, drain to persist.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.3, 0.6, 1, 3, 6, 10, 30},
	})

	return &m
}

// Compactor instruments compaction runs.
type Compactor struct {
	FilesCompacted prometheus.Counter
	BytesRead      prometheus.Counter
	BytesWritten   prometheus.Counter
	RowsLive       prometheus.Counter
	RowsDead       prometheus.Counter
}

func NewCompactor(reg prometheus.Registerer) *Compactor {
	var m Compactor

	m.FilesCompacted = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_compactor_files_compacted_total",
		Help: "Total number of delta files folded into base files.",
	})
	m.BytesRead = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_compactor_bytes_read_total",
		Help: "Total bytes read from delta files during compaction.",
	})
	m.BytesWritten = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_compactor_bytes_written_total",
		Help: "Total bytes written as base and delete files.",
	})
	m.RowsLive = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_compactor_rows_live_total",
		Help: "Total live rows emitted into base files.",
	})
	m.RowsDead = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_compactor_rows_dead_total",
		Help: "Total dead rows emitted into delete files.",
	})

	return &m
}

// Checkpoint instruments checkpoint generation.
type Checkpoint struct {
	Chunks prometheus.Counter
	Bytes  prometheus.Counter
}

func NewCheckpoint(reg prometheus.Registerer) *Checkpoint {
	var m Checkpoint

	m.Chunks = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_checkpoint_chunks_total",
		Help: "Total checkpoint chunks written.",
	})
	m.Bytes = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_checkpoint_bytes_total",
		Help: "Total bytes written into checkpoint chunks.",
	})

	return &m
}

// Scheduler instruments the maintenance scheduler.
type Scheduler struct {
	Ticks prometheus.Counter
	Skips prometheus.Counter
}

func NewScheduler(reg prometheus.Registerer) *Scheduler {
	var m Scheduler

	m.Ticks = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_scheduler_ticks_total",
		Help: "Total scheduler ticks that started a maintenance cycle.",
	})
	m.Skips = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_scheduler_skips_total",
		Help: "Total scheduler ticks skipped because a cycle was still running.",
	})

	return &m
}

// Actions instruments the action dispatcher.
type Actions struct {
	Dispatched prometheus.Counter
	CacheHits  prometheus.Counter
}

func NewActions(reg prometheus.Registerer) *Actions {
	var m Actions

	m.Dispatched = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_actions_dispatched_total",
		Help: "Total actions routed to a connector handler.",
	})
	m.CacheHits = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "lakegate_actions_cache_hits_total",
		Help: "Total actions answered from the idempotency cache.",
	})

	return &m
}

// Bundle groups every subsystem's instruments with the registry that
// serves them.
type Bundle struct {
	Registry   *prometheus.Registry
	Gateway    *Gateway
	Flush      *Flush
	Compactor  *Compactor
	Checkpoint *Checkpoint
	Scheduler  *Scheduler
	Actions    *Actions
}

// NewBundle builds a registry and every subsystem bundle on it.
func NewBundle() *Bundle {
	reg := NewRegistry()

	return &Bundle{
		Registry:   reg,
		Gateway:    NewGateway(reg),
		Flush:      NewFlush(reg),
		Compactor:  NewCompactor(reg),
		Checkpoint: NewCheckpoint(reg),
		Scheduler:  NewScheduler(reg),
		Actions:    NewActions(reg),
	}
}
