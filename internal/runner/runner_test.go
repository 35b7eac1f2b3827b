package runner

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/config"
)

func testConfig() *config.RunnerConfig {
	return &config.RunnerConfig{
		ExecutionID:       "m1-t1-100",
		MeetingID:         "m1",
		TranscriptID:      "t1",
		TenantID:          "tenant-1",
		CancelPollPeriod:  50 * time.Millisecond,
		InactivityCeiling: time.Minute,
		WatchdogPeriod:    time.Second,
		ProgressPeriod:    time.Minute,
	}
}

func staticInput(input string) InputBuilder {
	return func(ctx context.Context, cfg *config.RunnerConfig) (string, error) {
		return input, nil
	}
}

func TestRunReturnsDeployedURL(t *testing.T) {
	cfg := testConfig()
	cfg.AgentCommand = []string{"sh", "-c", `read line; echo "got: $line"; echo "DEPLOYED_URL=https://dash.example/m1"`}

	r := New(cfg, staticInput("analyse transcript t1\n"), zap.NewNop())
	url, cancelled, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, "https://dash.example/m1", url)
}

func TestRunMissingTokenIsError(t *testing.T) {
	cfg := testConfig()
	cfg.AgentCommand = []string{"sh", "-c", "echo finished without a url"}

	r := New(cfg, staticInput(""), zap.NewNop())
	_, cancelled, err := r.Run(context.Background())
	require.Error(t, err)
	assert.False(t, cancelled)
	assert.Contains(t, err.Error(), "DEPLOYED_URL")
}

func TestRunAgentFailurePropagates(t *testing.T) {
	cfg := testConfig()
	cfg.AgentCommand = []string{"sh", "-c", "exit 2"}

	r := New(cfg, staticInput(""), zap.NewNop())
	_, cancelled, err := r.Run(context.Background())
	require.Error(t, err)
	assert.False(t, cancelled)
}

func TestRunInputBuilderFailure(t *testing.T) {
	cfg := testConfig()
	cfg.AgentCommand = []string{"sh", "-c", "echo never runs"}

	r := New(cfg, func(ctx context.Context, cfg *config.RunnerConfig) (string, error) {
		return "", fmt.Errorf("transcript fetch failed")
	}, zap.NewNop())
	_, _, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transcript fetch failed")
}

func TestRunStopsOnCancellationMark(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Report cancelled from the second poll on.
		if polls.Add(1) >= 2 {
			w.Write([]byte(`{"cancelled":true}`))
			return
		}
		w.Write([]byte(`{"cancelled":false}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.CancelCheckURL = srv.URL
	cfg.AgentCommand = []string{"sh", "-c", "sleep 30"}

	r := New(cfg, staticInput(""), zap.NewNop())
	start := time.Now()
	url, cancelled, err := r.Run(context.Background())

	// A kill triggered by a cancellation mark is a clean outcome, not a
	// failed run.
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Empty(t, url)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.GreaterOrEqual(t, polls.Load(), int32(2))
}

func TestRunSurvivesPollFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.CancelCheckURL = srv.URL
	cfg.AgentCommand = []string{"sh", "-c", `sleep 0.3; echo "DEPLOYED_URL=https://ok.example"`}

	r := New(cfg, staticInput(""), zap.NewNop())
	url, cancelled, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, "https://ok.example", url)
}
