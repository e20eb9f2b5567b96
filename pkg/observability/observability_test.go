package observability

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/datapkg/pkg/config"
)

func TestInitWithoutTracing(t *testing.T) {
	cfg := config.NewDefaultConfig().Observability
	p, err := Init(cfg, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	assert.False(t, p.TracingEnabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInitExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	cfg := config.NewDefaultConfig().Observability
	cfg.EnableTracing = true
	cfg.ServiceName = "datapkg-test"
	var out bytes.Buffer
	p, err := Init(cfg, Options{ServiceVersion: "test", TraceOutput: &out})
	require.NoError(t, err)
	require.True(t, p.TracingEnabled())

	_, span := otel.Tracer("test").Start(context.Background(), "inspect")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Contains(t, out.String(), `"Name": "inspect"`)
	assert.Contains(t, out.String(), "datapkg-test")
}

func TestSampler(t *testing.T) {
	assert.True(t, strings.HasPrefix(Sampler(0).Description(), "ParentBased{root:AlwaysOffSampler"))
	assert.True(t, strings.HasPrefix(Sampler(1).Description(), "ParentBased{root:AlwaysOnSampler"))
	assert.True(t, strings.HasPrefix(Sampler(0.25).Description(), "ParentBased{root:TraceIDRatioBased{0.25}"))
}

func TestSpanLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := zap.New(core)

	SpanLogger(context.Background(), l).Info("no span")

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "sync")
	SpanLogger(ctx, l).Info("in span")
	span.End()

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.NotContains(t, entries[0].ContextMap(), "trace_id")
	assert.Equal(t, span.SpanContext().TraceID().String(), entries[1].ContextMap()["trace_id"])
}

func TestServeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "datapkg_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	s, err := ServeMetrics("127.0.0.1:0", reg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "datapkg_test_total 3")
}
