// Package observability wires datapkg's tracing and metrics exporters.
//
// Spans are created by the pipeline through the global otel tracer provider.
// Init replaces that provider with an SDK provider exporting to a writer when
// tracing is enabled; otherwise the no-op provider stays in place. Prometheus
// collectors live in pkg/metrics and are served by ServeMetrics.
package observability

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/pkg/config"
)

// Options are the process details attached to exported spans.
type Options struct {
	ServiceVersion string
	// TraceOutput receives exported spans, stderr when nil
	TraceOutput  io.Writer
	BatchTimeout time.Duration
	Logger       *zap.Logger
}

// Provider owns the exporters started by Init.
type Provider struct {
	tp     *sdktrace.TracerProvider
	logger *zap.Logger
}

// Init installs the global tracer provider described by cfg. The returned
// Provider must be shut down before the process exits so buffered spans are
// flushed.
func Init(cfg config.ObservabilityConfig, opts Options) (*Provider, error) {
	p := &Provider{logger: opts.Logger}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.EnableTracing {
		return p, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporterOpts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if opts.TraceOutput != nil {
		exporterOpts = append(exporterOpts, stdouttrace.WithWriter(opts.TraceOutput))
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	batchTimeout := opts.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}
	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.TracingSampleRate)),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
	)
	otel.SetTracerProvider(p.tp)
	p.logger.Debug("tracing enabled",
		zap.String("service", cfg.ServiceName),
		zap.Float64("sample_rate", cfg.TracingSampleRate))
	return p, nil
}

// Sampler maps a sample rate to a parent based sampler. Rates at or below
// zero never sample and rates at or above one always do.
func Sampler(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate <= 0:
		root = sdktrace.NeverSample()
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// TracingEnabled reports whether Init installed an SDK provider.
func (p *Provider) TracingEnabled() bool {
	return p != nil && p.tp != nil
}

// Shutdown flushes spans and syncs the logger.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer: %w", err))
		}
	}
	if err := p.logger.Sync(); err != nil && !ignorableSyncError(err) {
		errs = append(errs, fmt.Errorf("failed to sync logger: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// ignorableSyncError matches the errors zap returns when syncing a terminal.
// See: https://github.com/uber-go/zap/issues/328
func ignorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "bad file descriptor") ||
		strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "inappropriate ioctl")
}
