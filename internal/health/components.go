package health

import (
	"context"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/analyzer"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/export"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/reliability"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/tailer"
)

// IngestSource is the part of the tailer the ingest check needs
type IngestSource interface {
	Status() tailer.Status
}

// IngestCheck reports unhealthy when the tailer is not running and degraded
// while its last iteration failed.
func IngestCheck(src IngestSource) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		st := src.Status()
		meta := map[string]any{
			"path":           st.Path,
			"buffered_lines": st.BufferedLines,
			"offset":         st.Offset,
			"rotations":      st.Rotations,
		}

		switch {
		case !st.Running:
			return ComponentHealth{Status: StatusUnhealthy, Message: "tailer is not running", Metadata: meta}
		case st.LastError != nil:
			return ComponentHealth{Status: StatusDegraded, Message: *st.LastError, Metadata: meta}
		default:
			return ComponentHealth{Status: StatusHealthy, Message: "tailing", Metadata: meta}
		}
	}
}

type breakerOwner interface {
	Breaker() *reliability.CircuitBreaker
}

// AnalyzerCheck follows the analyzer's circuit breaker. An analyzer without
// credentials is degraded, not unhealthy, since the rest of the API works.
func AnalyzerCheck(a analyzer.Analyzer) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if analyzer.IsDisabled(a) {
			return ComponentHealth{Status: StatusDegraded, Message: analyzer.ErrNotConfigured.Error()}
		}

		meta := map[string]any{"model": a.Model()}
		owner, ok := a.(breakerOwner)
		if !ok {
			return ComponentHealth{Status: StatusHealthy, Message: "configured", Metadata: meta}
		}

		m := owner.Breaker().Metrics()
		meta["breaker"] = m

		switch owner.Breaker().State() {
		case reliability.StateOpen:
			return ComponentHealth{Status: StatusUnhealthy, Message: "circuit breaker open", Metadata: meta}
		case reliability.StateHalfOpen:
			return ComponentHealth{Status: StatusDegraded, Message: "circuit breaker half-open", Metadata: meta}
		default:
			return ComponentHealth{Status: StatusHealthy, Message: "configured", Metadata: meta}
		}
	}
}

// ExportStatser is the part of the dispatcher the export check needs
type ExportStatser interface {
	Stats() export.DispatcherStats
}

// ExportCheck is degraded once records have been dropped or every attempted
// delivery has failed.
func ExportCheck(d ExportStatser) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		st := d.Stats()
		meta := map[string]any{
			"queued":    st.Queued,
			"delivered": st.Delivered,
			"failed":    st.Failed,
			"dropped":   st.Dropped,
		}

		switch {
		case st.Failed > 0 && st.Delivered == 0:
			return ComponentHealth{Status: StatusDegraded, Message: "no record delivered yet", Metadata: meta}
		case st.Dropped > 0:
			return ComponentHealth{Status: StatusDegraded, Message: "records dropped on a full queue", Metadata: meta}
		default:
			return ComponentHealth{Status: StatusHealthy, Metadata: meta}
		}
	}
}
