// Package metrics exposes Prometheus metrics for inspection and delivery.
//
// # Basic Usage
//
//	// Count records delivered by a sink
//	metrics.RecordsDelivered.WithLabelValues("s3", "APPEND_ONLY_LOG").Add(float64(n))
//
//	// Time a pipeline stage
//	timer := metrics.NewTimer("inspect")
//	inspect(streams)
//	timer.ObserveStage()
//
//	// Track throughput of one stream
//	tracker := metrics.NewThroughputTracker("http", "file")
//	for record := range records {
//	    write(record)
//	    tracker.Increment(1)
//	}
//	throughput := tracker.GetAndReset()
//
// All metrics are registered on the default registry through promauto.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamsDiscovered counts stream descriptors returned by source discovery.
	// Labels: source (connector type)
	StreamsDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapkg_streams_discovered_total",
			Help: "Total number of streams discovered",
		},
		[]string{"source"},
	)

	// StreamsSkipped counts stream sets or streams skipped because their
	// fingerprints were unchanged.
	// Labels: stage (inspect/sync)
	StreamsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapkg_streams_skipped_total",
			Help: "Total number of streams skipped as unchanged",
		},
		[]string{"stage"},
	)

	// RecordsInspected counts records read while inferring schemas.
	// Labels: source (connector type)
	RecordsInspected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapkg_records_inspected_total",
			Help: "Total number of records inspected",
		},
		[]string{"source"},
	)

	// RecordsDelivered counts records committed by sinks.
	// Labels: sink (connector type), update_method
	//
	// Example:
	//	metrics.RecordsDelivered.WithLabelValues("postgres", "BATCH_FULL_SET").Add(1000)
	RecordsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapkg_records_delivered_total",
			Help: "Total number of records delivered to sinks",
		},
		[]string{"sink", "update_method"},
	)

	// BytesUploaded counts bytes of relocated artifacts.
	// Labels: sink
	BytesUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapkg_bytes_uploaded_total",
			Help: "Total bytes of artifacts uploaded to remote sinks",
		},
		[]string{"sink"},
	)

	// UploadFailures counts failed relocations. Each failure leaves a scratch
	// artifact behind.
	// Labels: sink
	UploadFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapkg_upload_failures_total",
			Help: "Total number of failed artifact uploads",
		},
		[]string{"sink"},
	)

	// StageDuration tracks how long pipeline stages take, in seconds.
	// Labels: stage (discover/inspect/diff/deliver)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "datapkg_stage_duration_seconds",
			Help: "Pipeline stage duration in seconds",
			Buckets: []float64{
				0.01, // 10ms - metadata probes
				0.1,  // 100ms
				1,    // 1s - small streams
				10,   // 10s
				60,   // 1m - large transfers
				600,  // 10m
			},
		},
		[]string{"stage"},
	)

	// JobsFinished counts jobs by kind and terminal state.
	// Labels: job (update/sync), state (COMPLETED/STOPPED/ERROR)
	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapkg_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal state",
		},
		[]string{"job", "state"},
	)

	// Throughput tracks records per second of the last measured interval.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "datapkg_throughput_records_per_second",
			Help: "Current throughput in records per second",
		},
		[]string{"source", "sink"},
	)
)

// Timer measures the duration of one stage.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop returns the elapsed duration since creation. It may be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ObserveStage records the elapsed time in StageDuration under the timer's
// name and returns it.
func (t *Timer) ObserveStage() time.Duration {
	d := t.Stop()
	StageDuration.WithLabelValues(t.name).Observe(d.Seconds())
	return d
}

// ThroughputTracker tracks records per second between resets. Safe for
// concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	total     int64
	lastReset time.Time
	source    string
	sink      string
}

// NewThroughputTracker creates a tracker for one source to sink delivery.
func NewThroughputTracker(source, sink string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		source:    source,
		sink:      sink,
	}
}

// Increment adds n to the record count.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
	t.total += n
}

// Total returns all records counted since creation.
func (t *ThroughputTracker) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// GetAndReset calculates the throughput since the last reset, updates the
// Throughput gauge and starts a new interval.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.source, t.sink).Set(throughput)

	return throughput
}
