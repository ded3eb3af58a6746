package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Ingest      IngestConfig       `yaml:"ingest"`
	Analyzer    AnalyzerConfig     `yaml:"analyzer"`
	HostMetrics HostMetricsConfig  `yaml:"host_metrics"`
	Export      *ExportConfig      `yaml:"export,omitempty"`
	Logging     LoggingConfig      `yaml:"logging"`
	Metrics     *MetricsConfig     `yaml:"metrics,omitempty"`
	Health      *HealthConfig      `yaml:"health,omitempty"`
	Tracing     *TracingConfig     `yaml:"tracing,omitempty"`
	Reliability *ReliabilityConfig `yaml:"reliability,omitempty"`
	Profiling   *ProfilingConfig   `yaml:"profiling,omitempty"`
	Shutdown    ShutdownConfig     `yaml:"shutdown"`
}

// ServerConfig defines the HTTP API server
type ServerConfig struct {
	Address        string        `yaml:"address"`
	AllowedOrigins []string      `yaml:"allowed_origins,omitempty"`
	ReadTimeout    time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout   time.Duration `yaml:"write_timeout,omitempty"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes,omitempty"`
	// AnalyzeRateLimit is the per-client analyze requests per minute (0 disables)
	AnalyzeRateLimit int `yaml:"analyze_rate_limit,omitempty"`
	AnalyzeBurst     int `yaml:"analyze_burst,omitempty"`
	// TLS serves the API over HTTPS when set
	TLS *TLSConfig `yaml:"tls,omitempty"`
}

// TLSConfig holds the API listener certificate
type TLSConfig struct {
	CertFile     string `yaml:"cert_file"`
	KeyFile      string `yaml:"key_file"`
	ClientCAFile string `yaml:"client_ca_file,omitempty"`
	MinVersion   string `yaml:"min_version,omitempty"`
}

// IngestConfig defines the tailed log file. An empty path disables ingestion.
type IngestConfig struct {
	Path         string        `yaml:"path,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	MaxLines     int           `yaml:"max_lines,omitempty"`
	MaxReadBytes int64         `yaml:"max_read_bytes,omitempty"`
	Watch        bool          `yaml:"watch,omitempty"`
	MatchRules   []MatchRule   `yaml:"match_rules,omitempty"`
}

// MatchRule names a pattern counted over ingested lines
type MatchRule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// Enabled reports whether a log file is configured
func (i IngestConfig) Enabled() bool {
	return strings.TrimSpace(i.Path) != ""
}

// AnalyzerConfig defines the LLM used for recommendations
type AnalyzerConfig struct {
	Provider      string        `yaml:"provider"` // anthropic
	APIKey        string        `yaml:"api_key,omitempty"`
	Model         string        `yaml:"model,omitempty"`
	BaseURL       string        `yaml:"base_url,omitempty"`
	MaxTokens     int           `yaml:"max_tokens,omitempty"`
	Temperature   float64       `yaml:"temperature,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	MaxInputBytes int           `yaml:"max_input_bytes,omitempty"`
}

// HostMetricsConfig defines how host metrics are sampled
type HostMetricsConfig struct {
	CPUSampleInterval time.Duration `yaml:"cpu_sample_interval,omitempty"`
	DiskPath          string        `yaml:"disk_path,omitempty"`
}

// ExportConfig defines where analysis records are sent
type ExportConfig struct {
	Enabled       bool                       `yaml:"enabled"`
	QueueSize     int                        `yaml:"queue_size,omitempty"`
	Timeout       time.Duration              `yaml:"timeout,omitempty"`
	File          *FileExportConfig          `yaml:"file,omitempty"`
	Kafka         *KafkaExportConfig         `yaml:"kafka,omitempty"`
	Elasticsearch *ElasticsearchExportConfig `yaml:"elasticsearch,omitempty"`
	S3            *S3ExportConfig            `yaml:"s3,omitempty"`
	DeadLetter    *DeadLetterConfig          `yaml:"dead_letter,omitempty"`
}

// DeadLetterConfig keeps undelivered records on disk for replay at startup
type DeadLetterConfig struct {
	Path    string        `yaml:"path"`
	MaxSize int           `yaml:"max_size,omitempty"`
	MaxAge  time.Duration `yaml:"max_age,omitempty"`
}

// FileExportConfig appends records as JSON lines
type FileExportConfig struct {
	Path string `yaml:"path"`
}

// KafkaExportConfig holds Kafka-specific configuration
type KafkaExportConfig struct {
	Brokers          []string `yaml:"brokers"`
	Topic            string   `yaml:"topic"`
	RequiredAcks     int16    `yaml:"required_acks,omitempty"`
	CompressionCodec string   `yaml:"compression_codec,omitempty"`
	ClientID         string   `yaml:"client_id,omitempty"`
	Version          string   `yaml:"version,omitempty"`
	SASLEnabled      bool     `yaml:"sasl_enabled,omitempty"`
	SASLMechanism    string   `yaml:"sasl_mechanism,omitempty"`
	SASLUsername     string   `yaml:"sasl_username,omitempty"`
	SASLPassword     string   `yaml:"sasl_password,omitempty"`
	EnableTLS        bool     `yaml:"enable_tls,omitempty"`
}

// ElasticsearchExportConfig holds Elasticsearch-specific configuration
type ElasticsearchExportConfig struct {
	Addresses     []string `yaml:"addresses"`
	Index         string   `yaml:"index"`
	IndexRotation string   `yaml:"index_rotation,omitempty"`
	Pipeline      string   `yaml:"pipeline,omitempty"`
	Username      string   `yaml:"username,omitempty"`
	Password      string   `yaml:"password,omitempty"`
	CloudID       string   `yaml:"cloud_id,omitempty"`
	APIKey        string   `yaml:"api_key,omitempty"`
}

// S3ExportConfig holds S3-specific configuration
type S3ExportConfig struct {
	Bucket               string `yaml:"bucket"`
	Region               string `yaml:"region"`
	Prefix               string `yaml:"prefix,omitempty"`
	KeyTemplate          string `yaml:"key_template,omitempty"`
	StorageClass         string `yaml:"storage_class,omitempty"`
	ServerSideEncryption string `yaml:"server_side_encryption,omitempty"`
	Compression          string `yaml:"compression,omitempty"`
	Endpoint             string `yaml:"endpoint,omitempty"`
	UsePathStyle         bool   `yaml:"use_path_style,omitempty"`
	// BatchSize above 1 groups records into one NDJSON object
	BatchSize     int           `yaml:"batch_size,omitempty"`
	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// MetricsConfig holds metrics configuration. With an empty address the
// metrics endpoint is served by the API server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// HealthConfig holds health check configuration
type HealthConfig struct {
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint,omitempty"`
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

// ReliabilityConfig holds retry and circuit breaker configuration for analyzer calls
type ReliabilityConfig struct {
	Retry          *RetryConfig          `yaml:"retry,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"max_backoff,omitempty"`
	Multiplier     float64       `yaml:"multiplier,omitempty"`
	Jitter         bool          `yaml:"jitter,omitempty"`
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests,omitempty"`
	Interval         time.Duration `yaml:"interval,omitempty"`
	Timeout          time.Duration `yaml:"timeout,omitempty"`
	FailureThreshold uint32        `yaml:"failure_threshold,omitempty"`
}

// ProfilingConfig exposes pprof on a separate listener
type ProfilingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Address      string `yaml:"address,omitempty"`
	BlockProfile bool   `yaml:"block_profile,omitempty"`
	MutexProfile bool   `yaml:"mutex_profile,omitempty"`
}

// ShutdownConfig holds graceful shutdown configuration
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Default values
const (
	DefaultAddress       = "0.0.0.0:8000"
	DefaultPollInterval  = 1 * time.Second
	DefaultMaxLines      = 500
	DefaultMaxReadBytes  = 4 << 20
	DefaultProvider      = "anthropic"
	DefaultModel         = "claude-sonnet-4-20250514"
	DefaultMaxTokens     = 1024
	DefaultTimeout       = 60 * time.Second
	DefaultMaxInputBytes = 100000
	DefaultMaxBodyBytes  = 1 << 20
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	DefaultDiskPath      = "/"
	DefaultCPUSample     = 1 * time.Second
	DefaultExportQueue   = 100
	DefaultShutdown      = 30 * time.Second
)

// Load loads configuration from a YAML file with environment variable overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from path. A missing file yields the
// default configuration with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cfg = &Config{}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	if err := c.applyEnvOverrides(); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides lets the process environment win over file values
func (c *Config) applyEnvOverrides() error {
	if v, ok := os.LookupEnv("LOG_FILE_PATH"); ok {
		c.Ingest.Path = v
	}
	if v := os.Getenv("LOG_POLL_INTERVAL"); v != "" {
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("LOG_POLL_INTERVAL: %w", err)
		}
		c.Ingest.PollInterval = d
	}
	if v := os.Getenv("LOG_MAX_LINES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LOG_MAX_LINES: %w", err)
		}
		c.Ingest.MaxLines = n
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Analyzer.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_MODEL"); v != "" {
		c.Analyzer.Model = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	return nil
}

// parseInterval accepts a Go duration ("500ms") or float seconds ("1.5")
func parseInterval(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// applyDefaults sets default values for unspecified configuration
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 2 * time.Minute
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Server.AnalyzeRateLimit > 0 && c.Server.AnalyzeBurst == 0 {
		c.Server.AnalyzeBurst = 1
	}

	if c.Ingest.PollInterval == 0 {
		c.Ingest.PollInterval = DefaultPollInterval
	}
	if c.Ingest.MaxLines == 0 {
		c.Ingest.MaxLines = DefaultMaxLines
	}
	if c.Ingest.MaxReadBytes == 0 {
		c.Ingest.MaxReadBytes = DefaultMaxReadBytes
	}

	if c.Analyzer.Provider == "" {
		c.Analyzer.Provider = DefaultProvider
	}
	if c.Analyzer.Model == "" {
		c.Analyzer.Model = DefaultModel
	}
	if c.Analyzer.MaxTokens == 0 {
		c.Analyzer.MaxTokens = DefaultMaxTokens
	}
	if c.Analyzer.Timeout == 0 {
		c.Analyzer.Timeout = DefaultTimeout
	}
	if c.Analyzer.MaxInputBytes == 0 {
		c.Analyzer.MaxInputBytes = DefaultMaxInputBytes
	}

	if c.HostMetrics.CPUSampleInterval == 0 {
		c.HostMetrics.CPUSampleInterval = DefaultCPUSample
	}
	if c.HostMetrics.DiskPath == "" {
		c.HostMetrics.DiskPath = DefaultDiskPath
	}

	if c.Export != nil {
		if c.Export.QueueSize == 0 {
			c.Export.QueueSize = DefaultExportQueue
		}
		if c.Export.Timeout == 0 {
			c.Export.Timeout = 10 * time.Second
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	if c.Metrics != nil && c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultShutdown
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Ingest.PollInterval < 0 {
		return fmt.Errorf("ingest poll_interval must be positive")
	}
	if c.Ingest.MaxLines < 0 {
		return fmt.Errorf("ingest max_lines must be positive")
	}
	for i, rule := range c.Ingest.MatchRules {
		if rule.Name == "" || rule.Pattern == "" {
			return fmt.Errorf("ingest match rule %d needs a name and a pattern", i)
		}
	}

	validProviders := map[string]bool{
		"anthropic": true,
	}
	if !validProviders[c.Analyzer.Provider] {
		return fmt.Errorf("unsupported analyzer provider: %s", c.Analyzer.Provider)
	}
	if c.Analyzer.Temperature < 0 || c.Analyzer.Temperature > 1 {
		return fmt.Errorf("analyzer temperature must be within [0, 1]")
	}

	if c.Server.AnalyzeRateLimit < 0 {
		return fmt.Errorf("server analyze_rate_limit must not be negative")
	}
	if tls := c.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			return fmt.Errorf("server tls needs cert_file and key_file")
		}
		if tls.MinVersion != "" && tls.MinVersion != "1.2" && tls.MinVersion != "1.3" {
			return fmt.Errorf("server tls min_version must be 1.2 or 1.3")
		}
	}

	if c.Export != nil && c.Export.Enabled {
		if err := c.Export.validate(); err != nil {
			return err
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Tracing != nil && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing sample_rate must be within [0, 1]")
	}

	return nil
}

func (e *ExportConfig) validate() error {
	sinks := 0

	if e.File != nil {
		sinks++
		if e.File.Path == "" {
			return fmt.Errorf("file export has no path configured")
		}
	}
	if e.Kafka != nil {
		sinks++
		if len(e.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka export has no brokers configured")
		}
		if e.Kafka.Topic == "" {
			return fmt.Errorf("kafka export has no topic configured")
		}
	}
	if e.Elasticsearch != nil {
		sinks++
		if len(e.Elasticsearch.Addresses) == 0 && e.Elasticsearch.CloudID == "" {
			return fmt.Errorf("elasticsearch export has no addresses or cloud ID configured")
		}
		if e.Elasticsearch.Index == "" {
			return fmt.Errorf("elasticsearch export has no index configured")
		}
	}
	if e.S3 != nil {
		sinks++
		if e.S3.Bucket == "" {
			return fmt.Errorf("s3 export has no bucket configured")
		}
		if e.S3.Region == "" {
			return fmt.Errorf("s3 export has no region configured")
		}
	}

	if sinks == 0 {
		return fmt.Errorf("export is enabled but no sink is configured")
	}
	if e.DeadLetter != nil && e.DeadLetter.Path == "" {
		return fmt.Errorf("dead_letter has no path configured")
	}
	return nil
}

// DefaultConfig returns a default configuration with ingestion disabled
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
