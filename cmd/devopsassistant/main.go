package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/analyzer"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/config"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/dlq"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/export"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/health"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/logging"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/metrics"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/profiling"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/reliability"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/server"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/sysinfo"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/tailer"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/tracing"
)

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file")
	version    = "0.1.0"
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadOrDefault(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: "devops-assistant",
	})
	logging.SetGlobal(logger)

	logger.Info().
		Str("version", version).
		Str("address", cfg.Server.Address).
		Bool("ingest", cfg.Ingest.Enabled()).
		Msg("Starting DevOps assistant")

	ctx := context.Background()
	shutdownMgr := shutdown.New(shutdown.Config{Timeout: cfg.Shutdown.Timeout, Logger: logger})

	m := metrics.NewCollector()
	m.Start(15 * time.Second)

	tp := tracing.Noop()
	if cfg.Tracing != nil && cfg.Tracing.Enabled {
		tp, err = tracing.NewProvider(ctx, tracing.Config{
			Enabled:    true,
			Endpoint:   cfg.Tracing.Endpoint,
			SampleRate: cfg.Tracing.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		logger.Info().Str("endpoint", cfg.Tracing.Endpoint).Msg("Tracing enabled")
	}

	an, err := buildAnalyzer(cfg, m, tp, logger)
	if err != nil {
		return err
	}

	var t *tailer.Tailer
	if cfg.Ingest.Enabled() {
		t, err = buildTailer(cfg, m, logger)
		if err != nil {
			return err
		}
	} else {
		logger.Info().Msg("LOG_FILE_PATH not set, log ingestion disabled")
	}

	var dispatcher *export.Dispatcher
	var deadLetters *dlq.Queue
	exporter, err := export.New(ctx, cfg.Export, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize exporters: %w", err)
	}
	if exporter != nil {
		dcfg := export.DispatcherConfig{
			QueueSize: cfg.Export.QueueSize,
			Timeout:   cfg.Export.Timeout,
		}
		if dl := cfg.Export.DeadLetter; dl != nil {
			deadLetters, err = dlq.Open(dlq.Config{Path: dl.Path, MaxSize: dl.MaxSize, MaxAge: dl.MaxAge}, m, logger)
			if err != nil {
				return fmt.Errorf("failed to open dead-letter queue: %w", err)
			}
			dcfg.DeadLetter = deadLetters
		}
		dispatcher = export.NewDispatcher(exporter, dcfg, m, tp.Tracer(), logger)
		logger.Info().Str("exporter", exporter.Name()).Msg("Analysis export enabled")

		if deadLetters != nil {
			replayDeadLetters(deadLetters, dispatcher, logger)
		}
	}

	var healthTimeout time.Duration
	if cfg.Health != nil {
		healthTimeout = cfg.Health.Timeout
	}
	checker := health.NewChecker(healthTimeout, m)
	checker.Register("analyzer", health.AnalyzerCheck(an))
	if t != nil {
		checker.Register("ingest", health.IngestCheck(t))
	}
	if dispatcher != nil {
		checker.Register("export", health.ExportCheck(dispatcher))
	}

	srvCfg := server.Config{
		HTTP:     cfg.Server,
		Analyzer: an,
		Host: sysinfo.NewCollector(sysinfo.Config{
			CPUInterval: cfg.HostMetrics.CPUSampleInterval,
			DiskPath:    cfg.HostMetrics.DiskPath,
		}, m, logger),
		Tailer:  t,
		Health:  checker,
		Metrics: m,
		Tracer:  tp.Tracer(),
		Logger:  logger,
	}
	if dispatcher != nil {
		srvCfg.Exports = dispatcher
	}
	if cfg.Metrics != nil {
		srvCfg.MetricsAddress = cfg.Metrics.Address
		srvCfg.MetricsPath = cfg.Metrics.Path
		if !cfg.Metrics.Enabled {
			srvCfg.Metrics = nil
		}
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Shutdown runs in registration order: stop taking requests first, then
	// the tailer, then flush exports before tracing and metrics go away.
	shutdownMgr.RegisterComponent(srv)
	if t != nil {
		shutdownMgr.RegisterComponent(t)
	}
	if dispatcher != nil {
		shutdownMgr.RegisterComponent(dispatcher)
	}
	if deadLetters != nil {
		shutdownMgr.RegisterComponent(deadLetters)
	}
	shutdownMgr.RegisterComponent(tp)
	if cfg.Profiling != nil && cfg.Profiling.Enabled {
		profiler := profiling.New(profiling.Config{
			Enabled:      true,
			Address:      cfg.Profiling.Address,
			BlockProfile: cfg.Profiling.BlockProfile,
			MutexProfile: cfg.Profiling.MutexProfile,
		}, logger)
		if err := profiler.Start(); err != nil {
			return errors.Join(fmt.Errorf("failed to start profiler: %w", err), shutdownMgr.Shutdown())
		}
		shutdownMgr.RegisterComponent(profiler)
	}
	shutdownMgr.RegisterFunc("metrics", func(context.Context) error {
		m.Stop()
		return nil
	})

	if t != nil {
		t.Start()
	}

	if err := srv.Start(); err != nil {
		return errors.Join(err, shutdownMgr.Shutdown())
	}

	return shutdownMgr.WaitForSignal(ctx)
}

// replayDeadLetters resubmits records left undelivered by a previous run.
// Records that fail again land back in the queue.
func replayDeadLetters(q *dlq.Queue, d *export.Dispatcher, logger *logging.Logger) {
	entries, err := q.Drain()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read dead-letter queue")
		return
	}

	for _, e := range entries {
		d.Submit(e.Record)
	}
	if len(entries) > 0 {
		logger.Info().Int("records", len(entries)).Msg("Replaying undelivered analyses")
	}
}

func buildAnalyzer(cfg *config.Config, m *metrics.Collector, tp *tracing.Provider, logger *logging.Logger) (analyzer.Analyzer, error) {
	inner, err := analyzer.New(analyzer.Config{
		Provider:      cfg.Analyzer.Provider,
		APIKey:        cfg.Analyzer.APIKey,
		Model:         cfg.Analyzer.Model,
		BaseURL:       cfg.Analyzer.BaseURL,
		MaxTokens:     cfg.Analyzer.MaxTokens,
		Temperature:   cfg.Analyzer.Temperature,
		Timeout:       cfg.Analyzer.Timeout,
		MaxInputBytes: cfg.Analyzer.MaxInputBytes,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create analyzer: %w", err)
	}

	var guard analyzer.GuardConfig
	if rel := cfg.Reliability; rel != nil {
		if cb := rel.CircuitBreaker; cb != nil {
			guard.Breaker = reliability.CircuitBreakerConfig{
				MaxRequests:      cb.MaxRequests,
				Interval:         cb.Interval,
				Timeout:          cb.Timeout,
				FailureThreshold: cb.FailureThreshold,
			}
		}
		if r := rel.Retry; r != nil {
			guard.Retry = &reliability.RetryConfig{
				MaxRetries:     r.MaxRetries,
				InitialBackoff: r.InitialBackoff,
				MaxBackoff:     r.MaxBackoff,
				Multiplier:     r.Multiplier,
				Jitter:         r.Jitter,
			}
		}
	}

	return analyzer.NewGuarded(inner, guard, m, tp.Tracer(), logger), nil
}

func buildTailer(cfg *config.Config, m *metrics.Collector, logger *logging.Logger) (*tailer.Tailer, error) {
	rules := metrics.DefaultMatchRules()
	if len(cfg.Ingest.MatchRules) > 0 {
		rules = make([]metrics.MatchRule, 0, len(cfg.Ingest.MatchRules))
		for _, r := range cfg.Ingest.MatchRules {
			rules = append(rules, metrics.MatchRule{Name: r.Name, Pattern: r.Pattern})
		}
	}

	extractor, err := m.NewExtractor(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to compile match rules: %w", err)
	}

	t, err := tailer.New(tailer.Config{
		Path:         cfg.Ingest.Path,
		PollInterval: cfg.Ingest.PollInterval,
		MaxLines:     cfg.Ingest.MaxLines,
		MaxReadBytes: cfg.Ingest.MaxReadBytes,
		Watch:        cfg.Ingest.Watch,
		Observer:     extractor,
	}, logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create tailer: %w", err)
	}
	return t, nil
}
