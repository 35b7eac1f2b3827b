package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// RunnerConfig is the environment contract of the job-side binary. The
// dispatcher supplies every value on every dispatch; nothing is inherited
// from a previous execution.
type RunnerConfig struct {
	ExecutionID  string
	MeetingID    string
	TranscriptID string
	TenantID     string

	// CancelCheckURL, when set, is polled so the runner can self-terminate
	// after a cancellation it never saw a platform-level stop for.
	CancelCheckURL   string
	CancelPollPeriod time.Duration

	// AgentCommand is the analysis agent executable plus arguments.
	AgentCommand []string

	InactivityCeiling time.Duration
	WatchdogPeriod    time.Duration
	ProgressPeriod    time.Duration
}

// LoadRunner reads the runner environment, collecting every missing
// required variable into one error.
func LoadRunner() (*RunnerConfig, error) {
	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	cfg := &RunnerConfig{
		ExecutionID:       get("EXECUTION_ID"),
		MeetingID:         get("MEETING_ID"),
		TranscriptID:      get("TRANSCRIPT_ID"),
		TenantID:          get("TENANT_ID"),
		CancelCheckURL:    os.Getenv("CANCEL_CHECK_URL"),
		CancelPollPeriod:  getDuration("CANCEL_POLL_PERIOD", 30*time.Second),
		AgentCommand:      strings.Fields(getDefault("AGENT_COMMAND", "claude -p --output-format stream-json --verbose")),
		InactivityCeiling: getDuration("AGENT_INACTIVITY_CEILING", 15*time.Minute),
		WatchdogPeriod:    getDuration("AGENT_WATCHDOG_PERIOD", 30*time.Second),
		ProgressPeriod:    getDuration("AGENT_PROGRESS_PERIOD", 60*time.Second),
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}
