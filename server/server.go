// Package server exposes the HTTP trigger for mirroring runs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"insta-mirror/pkg/mirror"
	"insta-mirror/poll"
)

// Runner runs one mirroring pass, refusing with poll.ErrBusy while another is in progress.
type Runner interface {
	TryRun(ctx context.Context) (*poll.Report, error)
}

// Reporter delivers a run report.
type Reporter interface {
	Send(ctx context.Context, r *poll.Report) error
}

// Server handles HTTP requests.
type Server struct {
	runner   Runner
	reporter Reporter
	logger   *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Runner   Runner
	Reporter Reporter // optional
	Logger   *slog.Logger
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		runner:   cfg.Runner,
		reporter: cfg.Reporter,
		logger:   cfg.Logger,
	}
}

// Handler returns the routes served by s.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/pollz", s.handlePoll)
	return mux
}

// ListenAndServe serves on port until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	// Runs are long; the write timeout has to cover a full pass over every source.
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Minute,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
		return
	}
}

type pollResponse struct {
	Status   string   `json:"status"`
	Failures []string `json:"failures,omitempty"`
	Sources  int      `json:"sources"`
	Detected int      `json:"detected"`
	Mirrored int      `json:"mirrored"`
	DryRun   bool     `json:"dry_run"`
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Poll endpoint triggered")

	report, err := s.runner.TryRun(r.Context())
	if errors.Is(err, poll.ErrBusy) {
		s.logger.Info("Poll rejected, run already in progress")
		http.Error(w, "Run already in progress", http.StatusConflict)
		return
	}
	if err != nil {
		s.logger.Error("Poll run failed", "error", err, "config_error", mirror.IsKind(err, mirror.ConfigError))
		http.Error(w, "Run failed", http.StatusInternalServerError)
		return
	}

	if s.reporter != nil {
		if err := s.reporter.Send(r.Context(), report); err != nil {
			s.logger.Warn("Failed to send run report", "error", err)
		}
	}

	resp := pollResponse{
		Status:   "completed",
		Sources:  report.Sources,
		Detected: report.Detected,
		Mirrored: report.Mirrored,
		DryRun:   report.DryRun,
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, f.Err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
