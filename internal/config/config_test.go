package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  address: 127.0.0.1:9000

ingest:
  path: /var/log/app.log
  poll_interval: 2s
  max_lines: 200
  watch: true

analyzer:
  provider: anthropic
  model: claude-3-5-haiku-latest
  max_tokens: 512

logging:
  level: debug
  format: console
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Address != "127.0.0.1:9000" {
		t.Errorf("Expected address 127.0.0.1:9000, got %s", cfg.Server.Address)
	}

	if !cfg.Ingest.Enabled() {
		t.Error("Expected ingestion to be enabled")
	}

	if cfg.Ingest.PollInterval != 2*time.Second {
		t.Errorf("Expected poll interval 2s, got %v", cfg.Ingest.PollInterval)
	}

	if cfg.Ingest.MaxLines != 200 {
		t.Errorf("Expected max lines 200, got %d", cfg.Ingest.MaxLines)
	}

	if cfg.Analyzer.Model != "claude-3-5-haiku-latest" {
		t.Errorf("Unexpected model %s", cfg.Analyzer.Model)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	t.Setenv("APP_LOG", "/srv/app/current.log")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
ingest:
  path: ${APP_LOG}

logging:
  level: info
  format: json
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Ingest.Path != "/srv/app/current.log" {
		t.Errorf("Expected expanded path, got %s", cfg.Ingest.Path)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOG_FILE_PATH", "/tmp/override.log")
	t.Setenv("LOG_POLL_INTERVAL", "0.25")
	t.Setenv("LOG_MAX_LINES", "42")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_MODEL", "claude-test")
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("LOG_LEVEL", "WARN")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
ingest:
  path: /var/log/file.log
  poll_interval: 5s
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Ingest.Path != "/tmp/override.log" {
		t.Errorf("Expected env path, got %s", cfg.Ingest.Path)
	}
	if cfg.Ingest.PollInterval != 250*time.Millisecond {
		t.Errorf("Expected 250ms poll interval, got %v", cfg.Ingest.PollInterval)
	}
	if cfg.Ingest.MaxLines != 42 {
		t.Errorf("Expected 42 max lines, got %d", cfg.Ingest.MaxLines)
	}
	if cfg.Analyzer.APIKey != "sk-test" {
		t.Errorf("Expected API key from env, got %q", cfg.Analyzer.APIKey)
	}
	if cfg.Analyzer.Model != "claude-test" {
		t.Errorf("Expected model from env, got %s", cfg.Analyzer.Model)
	}
	if cfg.Server.Address != ":9999" {
		t.Errorf("Expected address from env, got %s", cfg.Server.Address)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected log level warn, got %s", cfg.Logging.Level)
	}
}

func TestInvalidEnvOverride(t *testing.T) {
	t.Setenv("LOG_MAX_LINES", "lots")

	if _, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for non-numeric LOG_MAX_LINES")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault failed: %v", err)
	}

	if cfg.Server.Address != DefaultAddress {
		t.Errorf("Expected default address, got %s", cfg.Server.Address)
	}
	if cfg.Ingest.MaxLines != DefaultMaxLines {
		t.Errorf("Expected default max lines, got %d", cfg.Ingest.MaxLines)
	}
}

func TestLoadOrDefaultBadYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("ingest: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := LoadOrDefault(configPath); err == nil {
		t.Error("Expected parse error to be returned")
	}
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"500ms", 500 * time.Millisecond, false},
		{"2s", 2 * time.Second, false},
		{"1", time.Second, false},
		{"1.5", 1500 * time.Millisecond, false},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseInterval(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseInterval(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseInterval(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				Ingest:  IngestConfig{Path: "/var/log/app.log"},
				Logging: LoggingConfig{Level: "info", Format: "json"},
			},
			wantErr: false,
		},
		{
			name: "ingestion disabled",
			config: &Config{
				Logging: LoggingConfig{Level: "info", Format: "json"},
			},
			wantErr: false,
		},
		{
			name: "unsupported provider",
			config: &Config{
				Analyzer: AnalyzerConfig{Provider: "oracle"},
			},
			wantErr: true,
		},
		{
			name: "temperature out of range",
			config: &Config{
				Analyzer: AnalyzerConfig{Temperature: 1.5},
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			config: &Config{
				Logging: LoggingConfig{Level: "invalid", Format: "json"},
			},
			wantErr: true,
		},
		{
			name: "invalid log format",
			config: &Config{
				Logging: LoggingConfig{Level: "info", Format: "invalid"},
			},
			wantErr: true,
		},
		{
			name: "unnamed match rule",
			config: &Config{
				Ingest: IngestConfig{
					Path:       "/var/log/app.log",
					MatchRules: []MatchRule{{Pattern: "ERROR"}},
				},
			},
			wantErr: true,
		},
		{
			name: "export without sinks",
			config: &Config{
				Export: &ExportConfig{Enabled: true},
			},
			wantErr: true,
		},
		{
			name: "kafka export without topic",
			config: &Config{
				Export: &ExportConfig{
					Enabled: true,
					Kafka:   &KafkaExportConfig{Brokers: []string{"localhost:9092"}},
				},
			},
			wantErr: true,
		},
		{
			name: "file export",
			config: &Config{
				Export: &ExportConfig{
					Enabled: true,
					File:    &FileExportConfig{Path: "/tmp/analyses.jsonl"},
				},
			},
			wantErr: false,
		},
		{
			name: "tls without key",
			config: &Config{
				Server: ServerConfig{TLS: &TLSConfig{CertFile: "/etc/tls/server.crt"}},
			},
			wantErr: true,
		},
		{
			name: "tls with unsupported version",
			config: &Config{
				Server: ServerConfig{TLS: &TLSConfig{
					CertFile:   "/etc/tls/server.crt",
					KeyFile:    "/etc/tls/server.key",
					MinVersion: "1.0",
				}},
			},
			wantErr: true,
		},
		{
			name: "tls 1.3",
			config: &Config{
				Server: ServerConfig{TLS: &TLSConfig{
					CertFile:   "/etc/tls/server.crt",
					KeyFile:    "/etc/tls/server.key",
					MinVersion: "1.3",
				}},
			},
			wantErr: false,
		},
		{
			name: "dead letter without path",
			config: &Config{
				Export: &ExportConfig{
					Enabled:    true,
					File:       &FileExportConfig{Path: "/tmp/analyses.jsonl"},
					DeadLetter: &DeadLetterConfig{MaxSize: 10},
				},
			},
			wantErr: true,
		},
		{
			name: "disabled export is not validated",
			config: &Config{
				Export: &ExportConfig{Enabled: false},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.applyDefaults()
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}

	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("Expected default log level %s, got %s", DefaultLogLevel, cfg.Logging.Level)
	}

	if cfg.Ingest.Enabled() {
		t.Error("Expected ingestion to be disabled by default")
	}

	if cfg.Ingest.PollInterval != DefaultPollInterval {
		t.Errorf("Expected default poll interval, got %v", cfg.Ingest.PollInterval)
	}

	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Errorf("Expected wildcard CORS origin, got %v", cfg.Server.AllowedOrigins)
	}
}
