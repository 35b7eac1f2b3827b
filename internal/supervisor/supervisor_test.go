package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSupervisor() *Supervisor {
	return New(zap.NewNop())
}

func TestRunExtractsResultToken(t *testing.T) {
	sup := newTestSupervisor()

	script := `echo noise; echo "DEPLOYED_URL=https://example.surge.sh extra"; echo more noise`
	result, err := sup.Run(context.Background(), []string{"sh", "-c", script}, "")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, 0, result.ExitCode)
	// The token stops at the first whitespace; trailing characters on the
	// line never leak in.
	assert.Equal(t, "https://example.surge.sh", result.DeployedURL)
}

func TestRunFeedsStdin(t *testing.T) {
	sup := newTestSupervisor()

	script := `read line; echo "DEPLOYED_URL=https://site.example/$line"`
	result, err := sup.Run(context.Background(), []string{"sh", "-c", script}, "dash-42\n")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, "https://site.example/dash-42", result.DeployedURL)
}

func TestRunSucceededWithoutToken(t *testing.T) {
	sup := newTestSupervisor()

	result, err := sup.Run(context.Background(), []string{"sh", "-c", "echo all done"}, "")
	require.NoError(t, err)

	// No token on a clean exit is the caller's call, not a supervisor
	// error.
	assert.Equal(t, StateSucceeded, result.State)
	assert.Empty(t, result.DeployedURL)
}

func TestRunNonzeroExitIsFailed(t *testing.T) {
	sup := newTestSupervisor()

	script := `echo "boom: bad input" >&2; exit 3`
	result, err := sup.Run(context.Background(), []string{"sh", "-c", script}, "")
	require.Error(t, err)

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.StderrTail, "boom: bad input")
	assert.Contains(t, err.Error(), "exit")
}

func TestRunInactivityWatchdogTimesOut(t *testing.T) {
	sup := newTestSupervisor()
	sup.InactivityCeiling = 150 * time.Millisecond
	sup.WatchdogPeriod = 40 * time.Millisecond
	sup.ProgressPeriod = time.Hour

	start := time.Now()
	result, err := sup.Run(context.Background(), []string{"sh", "-c", "sleep 30"}, "")
	require.Error(t, err)

	// A silent process is TimedOut, never Failed or Succeeded, and is
	// killed long before it would have exited on its own.
	assert.Equal(t, StateTimedOut, result.State)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Contains(t, err.Error(), "no output")
}

func TestRunActiveProcessOutlivesCeiling(t *testing.T) {
	sup := newTestSupervisor()
	sup.InactivityCeiling = 200 * time.Millisecond
	sup.WatchdogPeriod = 40 * time.Millisecond
	sup.ProgressPeriod = time.Hour

	// Total runtime exceeds the inactivity ceiling but output keeps
	// arriving, so the watchdog must not fire.
	script := `for i in 1 2 3 4 5 6; do echo tick $i; sleep 0.1; done; echo "DEPLOYED_URL=https://ok.example"`
	result, err := sup.Run(context.Background(), []string{"sh", "-c", script}, "")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, "https://ok.example", result.DeployedURL)
}

func TestRunContextCancelKillsProcess(t *testing.T) {
	sup := newTestSupervisor()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := sup.Run(ctx, []string{"sh", "-c", "sleep 30"}, "")
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunMissingCommand(t *testing.T) {
	sup := newTestSupervisor()

	_, err := sup.Run(context.Background(), nil, "")
	assert.Error(t, err)

	_, err = sup.Run(context.Background(), []string{"/nonexistent-binary-xyz"}, "")
	assert.Error(t, err)
}
