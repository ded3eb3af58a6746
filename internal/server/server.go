package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/analyzer"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/config"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/health"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/logging"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/metrics"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/security"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/tailer"
	"github.com/therealutkarshpriyadarshi/devops-assistant/pkg/types"
)

// HostSource produces host metric snapshots
type HostSource interface {
	Snapshot(ctx context.Context) (*types.HostMetrics, error)
}

// RecordSink accepts analysis records without blocking
type RecordSink interface {
	Submit(record *types.Analysis) bool
}

// Config holds server dependencies. Tailer, Exports, Health, Metrics and
// Tracer are optional.
type Config struct {
	HTTP config.ServerConfig
	// MetricsAddress serves /metrics on its own listener when it differs
	// from the API address
	MetricsAddress string
	MetricsPath    string

	Tailer   *tailer.Tailer
	Analyzer analyzer.Analyzer
	Host     HostSource
	Exports  RecordSink
	Health   *health.Checker
	Metrics  *metrics.Collector
	Tracer   trace.Tracer
	Logger   *logging.Logger
}

// Server is the HTTP API of the assistant
type Server struct {
	tailer       *tailer.Tailer
	analyzer     analyzer.Analyzer
	host         HostSource
	exports      RecordSink
	metrics      *metrics.Collector
	tracer       trace.Tracer
	logger       *logging.Logger
	limiters     *limiterSet
	maxBodyBytes int64

	allowedOrigins []string

	apiServer     *http.Server
	metricsServer *http.Server
	handler       http.Handler

	stopSweep chan struct{}
	stopOnce  sync.Once
}

// New builds the server and its routes
func New(cfg Config) (*Server, error) {
	if cfg.Analyzer == nil {
		return nil, fmt.Errorf("server requires an analyzer")
	}
	if cfg.Host == nil {
		return nil, fmt.Errorf("server requires a host metrics source")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("server")
	}
	if cfg.HTTP.Address == "" {
		cfg.HTTP.Address = config.DefaultAddress
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = config.DefaultMaxBodyBytes
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	s := &Server{
		tailer:         cfg.Tailer,
		analyzer:       cfg.Analyzer,
		host:           cfg.Host,
		exports:        cfg.Exports,
		metrics:        cfg.Metrics,
		tracer:         cfg.Tracer,
		logger:         cfg.Logger.WithComponent("server"),
		limiters:       newLimiterSet(cfg.HTTP.AnalyzeRateLimit, cfg.HTTP.AnalyzeBurst),
		maxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		allowedOrigins: cfg.HTTP.AllowedOrigins,
		stopSweep:      make(chan struct{}),
	}

	mux := http.NewServeMux()
	s.route(mux, "GET /{$}", "/", s.handleRoot, false)
	s.route(mux, "GET /health", "/health", s.handleHostHealth, false)
	s.route(mux, "POST /analyze-log", "/analyze-log", s.handleAnalyzeLog, true)
	s.route(mux, "POST /analyze-latest", "/analyze-latest", s.handleAnalyzeLatest, true)
	s.route(mux, "GET /log-source", "/log-source", s.handleLogSource, false)
	s.route(mux, "POST /log-source/start", "/log-source/start", s.handleLogSourceStart, false)
	s.route(mux, "POST /log-source/stop", "/log-source/stop", s.handleLogSourceStop, false)
	s.route(mux, "GET /latest-log", "/latest-log", s.handleLatestLog, false)

	if cfg.Health != nil {
		mux.HandleFunc("GET /health/live", cfg.Health.LivenessHandler())
		mux.HandleFunc("GET /health/ready", cfg.Health.ReadinessHandler())
		mux.HandleFunc("GET /health/components", cfg.Health.HTTPHandler())
	}

	var metricsHandler http.Handler
	if cfg.Metrics != nil {
		metricsHandler = promhttp.HandlerFor(cfg.Metrics.Registry(), promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		})
	}

	separateMetrics := metricsHandler != nil && cfg.MetricsAddress != "" && cfg.MetricsAddress != cfg.HTTP.Address
	if metricsHandler != nil && !separateMetrics {
		mux.Handle("GET "+cfg.MetricsPath, metricsHandler)
	}

	s.handler = s.withMiddleware(mux)
	s.apiServer = &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      s.handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	if t := cfg.HTTP.TLS; t != nil {
		tlsConfig, err := security.ServerTLSConfig(security.TLSConfig{
			CertFile:     t.CertFile,
			KeyFile:      t.KeyFile,
			ClientCAFile: t.ClientCAFile,
			MinVersion:   t.MinVersion,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
		s.apiServer.TLSConfig = tlsConfig
	}

	if separateMetrics {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, metricsHandler)
		s.metricsServer = &http.Server{
			Addr:         cfg.MetricsAddress,
			Handler:      metricsMux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	return s, nil
}

func (s *Server) route(mux *http.ServeMux, pattern, route string, h http.HandlerFunc, limited bool) {
	var handler http.Handler = h
	handler = s.bodyLimit(handler)
	if limited {
		handler = s.rateLimit(route, handler)
	}
	mux.Handle(pattern, s.instrument(route, handler))
}

// Handler returns the API handler with all middleware applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Name identifies the server in the shutdown sequence
func (s *Server) Name() string {
	return "http"
}

// Start binds the listeners and serves in the background
func (s *Server) Start() error {
	apiLn, err := net.Listen("tcp", s.apiServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.apiServer.Addr, err)
	}
	if s.apiServer.TLSConfig != nil {
		apiLn = tls.NewListener(apiLn, s.apiServer.TLSConfig)
	}

	var metricsLn net.Listener
	if s.metricsServer != nil {
		metricsLn, err = net.Listen("tcp", s.metricsServer.Addr)
		if err != nil {
			apiLn.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.metricsServer.Addr, err)
		}
	}

	go s.serve(s.apiServer, apiLn, "API")
	if metricsLn != nil {
		go s.serve(s.metricsServer, metricsLn, "metrics")
	}

	if s.limiters != nil {
		go s.sweepLimiters()
	}

	return nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener, kind string) {
	s.logger.Info().
		Str("address", ln.Addr().String()).
		Msgf("Starting %s server", kind)

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error().Err(err).Msgf("%s server error", kind)
	}
}

func (s *Server) sweepLimiters() {
	ticker := time.NewTicker(limiterIdle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.limiters.sweep(limiterIdle)
		case <-s.stopSweep:
			return
		}
	}
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopSweep) })

	var errs []error

	s.logger.Info().Msg("Shutting down API server")
	if err := s.apiServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("api server: %w", err))
	}

	if s.metricsServer != nil {
		s.logger.Info().Msg("Shutting down metrics server")
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}

	return errors.Join(errs...)
}
