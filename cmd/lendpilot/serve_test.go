package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PilotDAO/lendpilot-sub000/internal/orchestrator"
)

type fakeRunner struct {
	calls atomic.Int32
}

func (f *fakeRunner) Run(ctx context.Context) (*orchestrator.RunResult, error) {
	f.calls.Add(1)
	return &orchestrator.RunResult{RunID: "run-1", StartedAt: time.Unix(1700000000, 0).UTC()}, nil
}

func TestServer_Status(t *testing.T) {
	runner := &fakeRunner{}
	s := NewServer(runner, time.Hour, zerolog.Nop())
	s.unreliable = func() []string { return []string{"polygon-core"} }
	s.runOnce(context.Background())

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, 1, status.Runs)
	assert.Equal(t, "run-1", status.LastRunID)
	assert.Equal(t, "success", status.LastStatus)
	assert.False(t, status.Running)
	assert.Equal(t, []string{"polygon-core"}, status.Unreliable)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s := NewServer(&fakeRunner{}, time.Hour, zerolog.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	for _, path := range []string{"/health", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	runner := &fakeRunner{}
	s := NewServer(runner, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

type blockingRunner struct {
	calls   atomic.Int32
	release chan struct{}
}

func (b *blockingRunner) Run(ctx context.Context) (*orchestrator.RunResult, error) {
	b.calls.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &orchestrator.RunResult{RunID: "run-slow"}, nil
}

func (s *Server) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func TestServer_SkipsTicksWhileSyncRuns(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	s := NewServer(runner, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Several ticks pass while the first sync is blocked
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), runner.calls.Load())
	assert.True(t, s.isRunning())

	close(runner.release)
	require.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_StopWaitsForInFlightSync(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	s := NewServer(runner, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, s.isRunning(), "canceled sync is recorded before Run returns")
}
