package jobs

import (
	"context"
	"strings"
	"time"
)

// ExecutionStatus is the job platform's view of one execution.
type ExecutionStatus string

const (
	StatusRunning    ExecutionStatus = "Running"
	StatusProcessing ExecutionStatus = "Processing"
	StatusSucceeded  ExecutionStatus = "Succeeded"
	StatusFailed     ExecutionStatus = "Failed"
	StatusStopped    ExecutionStatus = "Stopped"
	StatusUnknown    ExecutionStatus = "Unknown"
)

// IsActive reports whether an execution in this status can still be stopped.
func (s ExecutionStatus) IsActive() bool {
	switch ExecutionStatus(strings.TrimSpace(string(s))) {
	case StatusRunning, StatusProcessing:
		return true
	}
	return false
}

// EnvVar is one environment value handed to a job execution.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Execution describes one execution of a job definition.
type Execution struct {
	Name      string          `json:"name"`
	Status    ExecutionStatus `json:"status"`
	StartedAt time.Time       `json:"started_at"`
}

// Platform is the job-execution platform the dispatcher and the
// cancellation service talk to.
//
// Start has full-replacement semantics: the platform applies exactly the env
// set given, discarding whatever the previous execution ran with. Callers
// must therefore pass every value the job needs on every call, static ones
// included.
type Platform interface {
	Start(ctx context.Context, jobName string, env []EnvVar) (string, error)
	Status(ctx context.Context, jobName, executionName string) (ExecutionStatus, error)
	Stop(ctx context.Context, jobName, executionName string) error
	ListRunning(ctx context.Context, jobName string) ([]Execution, error)
}
