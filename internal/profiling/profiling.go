package profiling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/logging"
)

// DefaultAddress keeps pprof off public interfaces unless configured otherwise
const DefaultAddress = "localhost:6060"

// Config holds profiling configuration
type Config struct {
	Enabled      bool
	Address      string
	BlockProfile bool
	MutexProfile bool
}

// Profiler serves pprof and runtime stats on a separate listener
type Profiler struct {
	config Config
	logger *logging.Logger
	server *http.Server
	addr   string
}

// New creates a profiler. Nothing is started until Start.
func New(cfg Config, logger *logging.Logger) *Profiler {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}

	return &Profiler{
		config: cfg,
		logger: logger.WithComponent("profiling"),
	}
}

// Handler returns the debug routes
func (p *Profiler) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("/debug/stats", statsHandler)
	return mux
}

// Start binds the debug listener. A disabled profiler does nothing.
func (p *Profiler) Start() error {
	if !p.config.Enabled {
		return nil
	}

	if p.config.BlockProfile {
		runtime.SetBlockProfileRate(1)
	}
	if p.config.MutexProfile {
		runtime.SetMutexProfileFraction(1)
	}

	ln, err := net.Listen("tcp", p.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.config.Address, err)
	}
	p.addr = ln.Addr().String()
	p.server = &http.Server{Handler: p.Handler()}

	go func() {
		p.logger.Info().Str("address", p.addr).Msg("Starting profiling server")
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error().Err(err).Msg("Profiling server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started
func (p *Profiler) Addr() string {
	return p.addr
}

// Name identifies the profiler in the shutdown sequence
func (p *Profiler) Name() string {
	return "profiling"
}

// Shutdown stops the debug server and resets sampling rates
func (p *Profiler) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}

	if p.config.BlockProfile {
		runtime.SetBlockProfileRate(0)
	}
	if p.config.MutexProfile {
		runtime.SetMutexProfileFraction(0)
	}
	return p.server.Shutdown(ctx)
}

// RuntimeStats is the body of /debug/stats
type RuntimeStats struct {
	Goroutines   int    `json:"goroutines"`
	CPUs         int    `json:"cpus"`
	GoMaxProcs   int    `json:"gomaxprocs"`
	HeapAlloc    uint64 `json:"heap_alloc_bytes"`
	HeapInuse    uint64 `json:"heap_inuse_bytes"`
	Sys          uint64 `json:"sys_bytes"`
	NumGC        uint32 `json:"num_gc"`
	PauseTotalNs uint64 `json:"pause_total_ns"`
}

// ReadStats samples the runtime
func ReadStats() RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return RuntimeStats{
		Goroutines:   runtime.NumGoroutine(),
		CPUs:         runtime.NumCPU(),
		GoMaxProcs:   runtime.GOMAXPROCS(0),
		HeapAlloc:    m.HeapAlloc,
		HeapInuse:    m.HeapInuse,
		Sys:          m.Sys,
		NumGC:        m.NumGC,
		PauseTotalNs: m.PauseTotalNs,
	}
}

func statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ReadStats())
}
