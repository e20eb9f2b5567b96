// Package pipeline implements the jobs that move data through datapkg.
//
// # Overview
//
// Two jobs are provided:
//   - UpdateJob: discovers the streams of every source of a package,
//     infers their schemas, compares the result with the saved package
//     file and saves it under the next semantic version.
//   - SyncJob: delivers the streams of a package to a sink, resuming from
//     the sink's persisted state so unchanged streams are skipped and
//     append-only sinks only receive new records.
//
// # Architecture
//
// Both jobs are job.Job values driving a chain of stages:
//
//	discover -> open (fan-out) -> inspect / deliver -> persist
//
// Prompts happen before any fan-out. Streams are assembled into schemas in
// discovery order regardless of the order in which they finish.
//
// # Basic Usage
//
//	env := &pipeline.Env{Config: cfg, Logger: logger.Get()}
//	j := pipeline.UpdateJob(env, jc, pipeline.UpdateOptions{Reference: "acme/people"})
//	res, err := j.Execute(ctx)
//	if err != nil {
//	    os.Exit(res.ExitCode)
//	}
//
// Callers must not run two jobs for the same catalog, package and major
// version at once; nothing here locks the sink state.
package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/registry"
	"github.com/ajitpratap0/datapkg/pkg/job"
	"github.com/ajitpratap0/datapkg/pkg/logger"
	"github.com/ajitpratap0/datapkg/pkg/metrics"
	"github.com/ajitpratap0/datapkg/pkg/observability"
	"github.com/ajitpratap0/datapkg/pkg/packagefile"
)

// TracerName names the tracer used for pipeline spans.
const TracerName = "github.com/ajitpratap0/datapkg/internal/pipeline"

// Env carries the long lived dependencies of every job. Zero fields are
// filled with defaults when a job is created.
type Env struct {
	Registry    *registry.Registry
	Packages    packagefile.PackageStore
	Permissions packagefile.PermissionChecker
	Config      *config.Config
	Logger      *zap.Logger
	Tracer      trace.Tracer
}

func (e *Env) withDefaults() *Env {
	out := *e
	if out.Logger == nil {
		out.Logger = logger.Get()
	}
	if out.Registry == nil {
		out.Registry = registry.GetRegistry()
	}
	if out.Packages == nil {
		out.Packages = packagefile.NewFileStore(out.Logger)
	}
	if out.Permissions == nil {
		out.Permissions = packagefile.AllowAll
	}
	if out.Config == nil {
		out.Config = config.NewDefaultConfig()
	}
	if out.Tracer == nil {
		out.Tracer = otel.Tracer(TracerName)
	}
	return &out
}

func (e *Env) jobOptions(name string) []job.Option {
	return []job.Option{
		job.WithStopTimeout(e.Config.Jobs.StopTimeout),
		job.WithLogger(e.Logger),
		job.WithListener(func(_ string, _, to job.State) {
			if to.Terminal() {
				metrics.JobsFinished.WithLabelValues(name, string(to)).Inc()
			}
		}),
	}
}

func (e *Env) concurrency() int {
	if n := e.Config.Pipeline.MaxConcurrency; n > 0 {
		return n
	}
	return 1
}

// stage is one traced and timed step of a job.
type stage struct {
	name   string
	span   trace.Span
	timer  *metrics.Timer
	logger *zap.Logger
}

func (e *Env) startStage(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *stage) {
	ctx, span := e.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &stage{
		name:   name,
		span:   span,
		timer:  metrics.NewTimer(name),
		logger: observability.SpanLogger(ctx, e.Logger),
	}
}

func (s *stage) end(err error) {
	elapsed := s.timer.ObserveStage()
	s.logger.Debug("stage finished", zap.String("stage", s.name), zap.Duration("elapsed", elapsed), zap.Error(err))
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

// runTask runs fn as a user visible task. The task ends in ERROR with the
// error message when fn fails.
func runTask(jc job.JobContext, message string, fn func(t job.Task) error) error {
	t := jc.StartTask(message)
	if err := fn(t); err != nil {
		t.End(job.TaskError, message+": "+err.Error())
		return err
	}
	t.End(job.TaskSuccess, "")
	return nil
}
