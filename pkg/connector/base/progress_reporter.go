package base

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/pkg/metrics"
)

// ProgressReporter tracks records moved from a source to a sink and logs
// progress periodically while running.
type ProgressReporter struct {
	logger  *zap.Logger
	tracker *metrics.ThroughputTracker

	processedRecords int64
	startTime        time.Time
	reportInterval   time.Duration
	onReport         func(processed int64)

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewProgressReporter creates a reporter for one source to sink delivery.
func NewProgressReporter(logger *zap.Logger, source, sink string) *ProgressReporter {
	return &ProgressReporter{
		logger:         logger,
		tracker:        metrics.NewThroughputTracker(source, sink),
		startTime:      time.Now(),
		reportInterval: 10 * time.Second,
		stopCh:         make(chan struct{}),
	}
}

// SetReportInterval sets the progress reporting interval. Call before Start.
func (pr *ProgressReporter) SetReportInterval(interval time.Duration) {
	pr.reportInterval = interval
}

// OnReport registers a callback run on every periodic report, e.g. to update
// a task message. Call before Start.
func (pr *ProgressReporter) OnReport(fn func(processed int64)) {
	pr.onReport = fn
}

// Start begins periodic progress reporting.
func (pr *ProgressReporter) Start() {
	pr.wg.Add(1)
	go func() {
		defer pr.wg.Done()
		ticker := time.NewTicker(pr.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-pr.stopCh:
				return
			case <-ticker.C:
				pr.reportCurrentProgress()
			}
		}
	}()
}

// Stop ends periodic reporting and logs a summary. It may be called more
// than once.
func (pr *ProgressReporter) Stop() {
	pr.stopOnce.Do(func() {
		close(pr.stopCh)
		pr.wg.Wait()
		pr.reportFinalProgress()
	})
}

// IncrementProcessed adds count to the processed records.
func (pr *ProgressReporter) IncrementProcessed(count int64) {
	atomic.AddInt64(&pr.processedRecords, count)
	pr.tracker.Increment(count)
}

// Processed returns the records processed so far.
func (pr *ProgressReporter) Processed() int64 {
	return atomic.LoadInt64(&pr.processedRecords)
}

// GetElapsedTime returns time since start.
func (pr *ProgressReporter) GetElapsedTime() time.Duration {
	return time.Since(pr.startTime)
}

func (pr *ProgressReporter) reportCurrentProgress() {
	processed := pr.Processed()
	throughput := pr.tracker.GetAndReset()

	pr.logger.Info("progress update",
		zap.Int64("processed", processed),
		zap.Float64("throughput", throughput),
		zap.Duration("elapsed", time.Since(pr.startTime)))

	if pr.onReport != nil {
		pr.onReport(processed)
	}
}

func (pr *ProgressReporter) reportFinalProgress() {
	processed := pr.Processed()
	elapsed := time.Since(pr.startTime)

	var avg float64
	if elapsed > 0 {
		avg = float64(processed) / elapsed.Seconds()
	}
	pr.logger.Info("delivery completed",
		zap.Int64("total_processed", processed),
		zap.Duration("total_time", elapsed),
		zap.Float64("avg_throughput", avg))
}
