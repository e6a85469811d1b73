package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/PilotDAO/lendpilot-sub000/internal/observability"
	"github.com/PilotDAO/lendpilot-sub000/internal/orchestrator"
)

// syncRunner is the part of the orchestrator the scheduler drives.
type syncRunner interface {
	Run(ctx context.Context) (*orchestrator.RunResult, error)
}

// Server runs the sync on a fixed interval and exposes health, status and metrics.
type Server struct {
	runner   syncRunner
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	// State
	mu         sync.Mutex
	started    time.Time
	lastRun    *orchestrator.RunResult
	lastErr    error
	running    bool
	runs       int
	unreliable func() []string
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync on a schedule and serve /health, /status and /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = opts.cfg.Server.Addr
			}
			if interval <= 0 {
				interval = opts.cfg.Server.SyncInterval
			}
			return opts.withApp(cmd.Context(), func(a *app) error {
				s := NewServer(a.orchestrator, interval, opts.logger)
				s.unreliable = a.registry.List
				return s.Run(cmd.Context(), addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default from config)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Sync interval (default from config)")
	return cmd
}

// NewServer creates a scheduler around runner.
func NewServer(runner syncRunner, interval time.Duration, logger zerolog.Logger) *Server {
	return &Server{
		runner:   runner,
		interval: interval,
		logger:   logger.With().Str("component", "server").Logger(),
		now:      time.Now,
	}
}

// Run serves HTTP and runs the sync immediately and then every interval,
// until ctx is canceled. Syncs run in the background; a tick that arrives
// while one is in flight is skipped. Run returns after the in-flight sync ends.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.mu.Lock()
	s.started = s.now()
	s.mu.Unlock()

	var wg sync.WaitGroup
	defer wg.Wait()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	trigger := func() {
		if !s.claim() {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.execute(runCtx)
		}()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	trigger()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		case <-ticker.C:
			trigger()
		}
	}
}

// runOnce runs one sync in the caller's goroutine unless one is already in flight.
func (s *Server) runOnce(ctx context.Context) {
	if s.claim() {
		s.execute(ctx)
	}
}

// claim marks a sync as running. Returns false if one already is.
func (s *Server) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn().Msg("previous sync still running, skipping tick")
		return false
	}
	s.running = true
	return true
}

// execute runs a claimed sync and records its outcome.
func (s *Server) execute(ctx context.Context) {
	result, err := s.runner.Run(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("sync run ended early")
	}

	s.mu.Lock()
	s.running = false
	s.runs++
	s.lastRun = result
	s.lastErr = err
	s.mu.Unlock()
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("/status", s.handleStatus)

	return mux
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status     string    `json:"status"`
	Uptime     string    `json:"uptime"`
	Runs       int       `json:"runs"`
	Running    bool      `json:"running"`
	LastRunID  string    `json:"last_run_id,omitempty"`
	LastRunAt  time.Time `json:"last_run_at,omitempty"`
	LastStatus string    `json:"last_status,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Unreliable []string  `json:"unreliable_markets"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := StatusResponse{
		Status:  "running",
		Uptime:  s.now().Sub(s.started).Round(time.Second).String(),
		Runs:    s.runs,
		Running: s.running,
	}
	if s.lastRun != nil {
		resp.LastRunID = s.lastRun.RunID
		resp.LastRunAt = s.lastRun.StartedAt
		resp.LastStatus = s.lastRun.Status()
	}
	if s.lastErr != nil {
		resp.LastError = s.lastErr.Error()
	}
	unreliable := s.unreliable
	s.mu.Unlock()

	resp.Unreliable = []string{}
	if unreliable != nil {
		if list := unreliable(); list != nil {
			resp.Unreliable = list
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
