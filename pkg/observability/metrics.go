package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsServer exposes the Prometheus registry over HTTP.
type MetricsServer struct {
	server   *http.Server
	listener net.Listener
	logger   *zap.Logger
	done     chan struct{}
}

// ServeMetrics starts serving /metrics on addr in the background. The
// listener is bound before returning so address errors surface here.
func ServeMetrics(addr string, gatherer prometheus.Gatherer, logger *zap.Logger) (*MetricsServer, error) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s := &MetricsServer{
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: ln,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("address", ln.Addr().String()))
	return s, nil
}

// Addr is the bound address, useful when addr used port 0.
func (s *MetricsServer) Addr() string {
	return s.listener.Addr().String()
}

// Close stops the server and waits for it to exit.
func (s *MetricsServer) Close(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	<-s.done
	return err
}
