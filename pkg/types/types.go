package types

import (
	"time"

	"github.com/google/uuid"
)

// HostMetrics is a point-in-time snapshot of host resource usage
type HostMetrics struct {
	CPU    CPUMetrics    `json:"cpu"`
	Memory MemoryMetrics `json:"memory"`
	Disk   DiskMetrics   `json:"disk"`
}

// CPUMetrics reports CPU utilisation across all cores
type CPUMetrics struct {
	UsagePercent float64 `json:"usage_percent"`
}

// MemoryMetrics reports virtual memory in bytes
type MemoryMetrics struct {
	Total     uint64  `json:"total"`
	Available uint64  `json:"available"`
	Percent   float64 `json:"percent"`
}

// DiskMetrics reports usage of one filesystem in bytes
type DiskMetrics struct {
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Free    uint64  `json:"free"`
	Percent float64 `json:"percent"`
}

// Analysis sources
const (
	SourceManual = "manual"
	SourceIngest = "ingest"
)

// Analysis is the record emitted for every successful log analysis
type Analysis struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Source         string    `json:"source"`
	LogPath        string    `json:"log_path,omitempty"`
	InputBytes     int       `json:"input_bytes"`
	InputExcerpt   string    `json:"input_excerpt"`
	Recommendation string    `json:"recommendation"`
	Model          string    `json:"model"`
	DurationMs     int64     `json:"duration_ms"`
}

// NewAnalysis builds a record for a completed analysis
func NewAnalysis(source, logPath, input, recommendation, model string, took time.Duration) *Analysis {
	return &Analysis{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		Source:         source,
		LogPath:        logPath,
		InputBytes:     len(input),
		InputExcerpt:   Excerpt(input, ExcerptLimit),
		Recommendation: recommendation,
		Model:          model,
		DurationMs:     took.Milliseconds(),
	}
}

// ExcerptLimit bounds the input excerpt stored on an Analysis
const ExcerptLimit = 2048

// Excerpt returns the most recent part of text, at most limit bytes, cut on a
// line boundary when one is available.
func Excerpt(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	tail := text[len(text)-limit:]
	for i := 0; i < len(tail); i++ {
		if tail[i] == '\n' {
			if i+1 < len(tail) {
				return tail[i+1:]
			}
			break
		}
	}
	return tail
}
