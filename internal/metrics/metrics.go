package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const namespace = "devops_assistant"

// Poll results recorded by the tailer
const (
	PollOK      = "ok"
	PollMissing = "missing"
	PollError   = "error"
)

// Collector provides a central place for all application metrics
type Collector struct {
	// Ingest metrics
	IngestPolls         *prometheus.CounterVec
	IngestLines         *prometheus.CounterVec
	IngestBytes         *prometheus.CounterVec
	IngestRotations     *prometheus.CounterVec
	IngestEvicted       *prometheus.CounterVec
	IngestBufferedLines *prometheus.GaugeVec
	IngestOffset        *prometheus.GaugeVec
	IngestRunning       *prometheus.GaugeVec

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRateLimited     *prometheus.CounterVec

	// Analyzer metrics
	AnalyzerRequests     *prometheus.CounterVec
	AnalyzerDuration     *prometheus.HistogramVec
	AnalyzerInputBytes   prometheus.Histogram
	CircuitBreakerState  *prometheus.GaugeVec
	CircuitBreakerFailed *prometheus.GaugeVec

	// Export metrics
	ExportRecords  *prometheus.CounterVec
	ExportDuration *prometheus.HistogramVec
	ExportQueue    prometheus.Gauge
	DeadLetters    prometheus.Gauge

	// Host metrics, refreshed on every snapshot
	HostCPUPercent    prometheus.Gauge
	HostMemoryPercent prometheus.Gauge
	HostMemoryTotal   prometheus.Gauge
	HostDiskPercent   prometheus.Gauge
	HostDiskTotal     prometheus.Gauge

	// Process runtime metrics
	SystemGoroutines prometheus.Gauge
	SystemMemAlloc   prometheus.Gauge

	// Health metrics
	HealthStatus *prometheus.GaugeVec

	registry *prometheus.Registry
	mu       sync.Mutex
	stopCh   chan struct{}
	started  bool
}

// NewCollector creates a new metrics collector with its own registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	c := &Collector{
		registry: registry,
	}

	c.initIngestMetrics()
	c.initHTTPMetrics()
	c.initAnalyzerMetrics()
	c.initExportMetrics()
	c.initHostMetrics()
	c.initSystemMetrics()
	c.initHealthMetrics()

	return c
}

func (c *Collector) initIngestMetrics() {
	c.IngestPolls = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "polls_total",
			Help:      "Total number of tail iterations by result",
		},
		[]string{"path", "result"},
	)

	c.IngestLines = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "lines_total",
			Help:      "Total number of lines read from the monitored file",
		},
		[]string{"path"},
	)

	c.IngestBytes = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "bytes_total",
			Help:      "Total bytes read from the monitored file",
		},
		[]string{"path"},
	)

	c.IngestRotations = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rotations_total",
			Help:      "Total number of detected truncations or rotations",
		},
		[]string{"path"},
	)

	c.IngestEvicted = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "lines_evicted_total",
			Help:      "Total number of buffered lines evicted to respect the capacity bound",
		},
		[]string{"path"},
	)

	c.IngestBufferedLines = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "buffered_lines",
			Help:      "Current number of buffered lines",
		},
		[]string{"path"},
	)

	c.IngestOffset = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "offset_bytes",
			Help:      "Byte offset consumed in the monitored file",
		},
		[]string{"path"},
	)

	c.IngestRunning = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "running",
			Help:      "Whether the tail loop is running (1) or stopped (0)",
		},
		[]string{"path"},
	)
}

func (c *Collector) initHTTPMetrics() {
	c.HTTPRequests = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "method", "code"},
	)

	c.HTTPRequestDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	c.HTTPRateLimited = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of rate-limited requests",
		},
		[]string{"route"},
	)
}

func (c *Collector) initAnalyzerMetrics() {
	c.AnalyzerRequests = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "requests_total",
			Help:      "Total number of log analysis requests by result",
		},
		[]string{"analyzer", "result"},
	)

	c.AnalyzerDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "duration_seconds",
			Help:      "Time taken to obtain a recommendation",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
		[]string{"analyzer"},
	)

	c.AnalyzerInputBytes = promauto.With(c.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "input_bytes",
			Help:      "Size of log text submitted for analysis",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8), // 256B to ~4MB
		},
	)

	c.CircuitBreakerState = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	c.CircuitBreakerFailed = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "consecutive_failures",
			Help:      "Current number of consecutive failures",
		},
		[]string{"name"},
	)
}

func (c *Collector) initExportMetrics() {
	c.ExportRecords = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "records_total",
			Help:      "Total number of analysis records handed to exporters by result",
		},
		[]string{"exporter", "result"},
	)

	c.ExportDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "duration_seconds",
			Help:      "Time taken to export a single analysis record",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"exporter"},
	)

	c.ExportQueue = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "queue_length",
			Help:      "Analysis records waiting to be exported",
		},
	)

	c.DeadLetters = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "dead_letters",
			Help:      "Analysis records held in the dead-letter file awaiting replay",
		},
	)
}

func (c *Collector) initHostMetrics() {
	c.HostCPUPercent = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "cpu_usage_percent",
			Help:      "Host CPU usage at the last snapshot",
		},
	)

	c.HostMemoryPercent = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "memory_usage_percent",
			Help:      "Host memory usage at the last snapshot",
		},
	)

	c.HostMemoryTotal = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "memory_total_bytes",
			Help:      "Total host memory",
		},
	)

	c.HostDiskPercent = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "disk_usage_percent",
			Help:      "Disk usage of the monitored mount at the last snapshot",
		},
	)

	c.HostDiskTotal = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "disk_total_bytes",
			Help:      "Total size of the monitored mount",
		},
	)
}

func (c *Collector) initSystemMetrics() {
	c.SystemGoroutines = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	c.SystemMemAlloc = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_alloc_bytes",
			Help:      "Bytes of allocated heap objects",
		},
	)
}

func (c *Collector) initHealthMetrics() {
	c.HealthStatus = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health status of components (1=healthy, 0.5=degraded, 0=unhealthy)",
		},
		[]string{"component"},
	)
}

// Start begins collecting process runtime metrics periodically
func (c *Collector) Start(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}

	c.started = true
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		c.collectSystemMetrics()
		for {
			select {
			case <-ticker.C:
				c.collectSystemMetrics()
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop stops the periodic collection
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}
	close(c.stopCh)
	c.started = false
}

// collectSystemMetrics gathers runtime metrics
func (c *Collector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	c.SystemMemAlloc.Set(float64(m.Alloc))
}

// Registry returns the Prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
