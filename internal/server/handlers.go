package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/tailer"
	"github.com/therealutkarshpriyadarshi/devops-assistant/pkg/types"
)

// StatusResponse is returned by the root endpoint
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HostHealthResponse carries the host snapshot
type HostHealthResponse struct {
	Status  string             `json:"status"`
	Metrics *types.HostMetrics `json:"metrics"`
}

// AnalyzeRequest is the body of POST /analyze-log
type AnalyzeRequest struct {
	Log *string `json:"log"`
}

// AnalyzeResponse is returned by both analyze endpoints
type AnalyzeResponse struct {
	Status         string `json:"status"`
	Recommendation string `json:"recommendation"`
}

// LogSourceResponse reports whether ingestion is configured
type LogSourceResponse struct {
	Status string         `json:"status"`
	Source *tailer.Status `json:"source"`
}

// LatestLogResponse carries the buffered text
type LatestLogResponse struct {
	Log   string `json:"log"`
	Lines int    `json:"lines"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:  "running",
		Message: "AI DevOps Assistant is operational",
	})
}

func (s *Server) handleHostHealth(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.host.Snapshot(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to collect host metrics")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, HostHealthResponse{Status: "healthy", Metrics: snapshot})
}

func (s *Server) handleAnalyzeLog(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		if isMaxBytes(err) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("%w: body exceeds %d bytes", ErrInvalidBody, s.maxBodyBytes))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", ErrInvalidBody, err))
		return
	}
	if req.Log == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: field \"log\" is required", ErrInvalidBody))
		return
	}

	s.analyze(r.Context(), w, *req.Log, types.SourceManual, "")
}

func (s *Server) handleAnalyzeLatest(w http.ResponseWriter, r *http.Request) {
	if s.tailer == nil {
		writeError(w, statusFor(ErrNotConfigured), ErrNotConfigured)
		return
	}

	text := s.tailer.Text()
	if strings.TrimSpace(text) == "" {
		writeError(w, statusFor(ErrNoDataBuffered), ErrNoDataBuffered)
		return
	}

	s.analyze(r.Context(), w, text, types.SourceIngest, s.tailer.Path())
}

// analyze runs the analyzer and hands successful results to the exporters
func (s *Server) analyze(ctx context.Context, w http.ResponseWriter, text, source, logPath string) {
	start := time.Now()
	recommendation, err := s.analyzer.Analyze(ctx, text)
	if err != nil {
		code := statusFor(err)
		evt := s.logger.Warn()
		if code == http.StatusBadGateway {
			evt = s.logger.Error()
		}
		evt.Err(err).Str("source", source).Int("status", code).Msg("Log analysis failed")
		writeError(w, code, err)
		return
	}

	if s.exports != nil {
		s.exports.Submit(types.NewAnalysis(source, logPath, text, recommendation, s.analyzer.Model(), time.Since(start)))
	}

	writeJSON(w, http.StatusOK, AnalyzeResponse{Status: "success", Recommendation: recommendation})
}

func (s *Server) handleLogSource(w http.ResponseWriter, r *http.Request) {
	if s.tailer == nil {
		writeJSON(w, http.StatusOK, LogSourceResponse{Status: "disabled"})
		return
	}

	st := s.tailer.Status()
	writeJSON(w, http.StatusOK, LogSourceResponse{Status: "enabled", Source: &st})
}

func (s *Server) handleLatestLog(w http.ResponseWriter, r *http.Request) {
	if s.tailer == nil {
		writeError(w, statusFor(ErrNotConfigured), ErrNotConfigured)
		return
	}

	lines := s.tailer.Lines()
	writeJSON(w, http.StatusOK, LatestLogResponse{
		Log:   strings.Join(lines, "\n"),
		Lines: len(lines),
	})
}

func (s *Server) handleLogSourceStart(w http.ResponseWriter, r *http.Request) {
	if s.tailer == nil {
		writeError(w, statusFor(ErrNotConfigured), ErrNotConfigured)
		return
	}

	s.tailer.Start()
	s.logger.Info().Str("path", s.tailer.Path()).Msg("Log ingestion started via API")
	writeJSON(w, http.StatusOK, s.tailer.Status())
}

func (s *Server) handleLogSourceStop(w http.ResponseWriter, r *http.Request) {
	if s.tailer == nil {
		writeError(w, statusFor(ErrNotConfigured), ErrNotConfigured)
		return
	}

	s.tailer.Stop()
	s.logger.Info().Str("path", s.tailer.Path()).Msg("Log ingestion stop requested via API")
	writeJSON(w, http.StatusOK, s.tailer.Status())
}

// bodyLimit caps request bodies at max_body_bytes
func (s *Server) bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func isMaxBytes(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
