// Package runner is the job-side half of the pipeline: it supervises one
// analysis agent run inside the dispatched job and watches for its own
// cancellation.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/config"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/supervisor"
)

// InputBuilder produces the text prompt fed to the agent's stdin. The
// actual transcript fetch and prompt content are boundary concerns owned
// by the caller.
type InputBuilder func(ctx context.Context, cfg *config.RunnerConfig) (string, error)

// Runner executes one supervised agent run.
type Runner struct {
	cfg        *config.RunnerConfig
	sup        *supervisor.Supervisor
	buildInput InputBuilder
	http       *http.Client
	logger     *zap.Logger
}

func New(cfg *config.RunnerConfig, buildInput InputBuilder, logger *zap.Logger) *Runner {
	sup := supervisor.New(logger)
	sup.InactivityCeiling = cfg.InactivityCeiling
	sup.WatchdogPeriod = cfg.WatchdogPeriod
	sup.ProgressPeriod = cfg.ProgressPeriod

	return &Runner{
		cfg:        cfg,
		sup:        sup,
		buildInput: buildInput,
		http:       &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// Run builds the agent input, supervises the agent to completion and
// returns the deployed URL. A cancellation observed through the check URL
// terminates the agent and returns with cancelled=true and no error.
func (r *Runner) Run(ctx context.Context) (deployedURL string, cancelled bool, err error) {
	input, err := r.buildInput(ctx, r.cfg)
	if err != nil {
		return "", false, fmt.Errorf("failed to build agent input: %w", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	cancelObserved := make(chan struct{})
	if r.cfg.CancelCheckURL != "" {
		go r.pollCancellation(runCtx, stop, cancelObserved)
	}

	result, runErr := r.sup.Run(runCtx, r.cfg.AgentCommand, input)

	select {
	case <-cancelObserved:
		// The kill triggered by cancellation surfaces as a failed run;
		// that is the expected shape of a cancel, not an error.
		r.logger.Info("Run cancelled on request",
			zap.String("execution_id", r.cfg.ExecutionID),
		)
		return "", true, nil
	default:
	}

	if runErr != nil {
		if result != nil {
			r.logger.Error("Agent run did not succeed",
				zap.String("execution_id", r.cfg.ExecutionID),
				zap.String("state", string(result.State)),
				zap.Int("exit_code", result.ExitCode),
				zap.Duration("elapsed", result.Elapsed),
			)
		}
		return "", false, runErr
	}

	if result.DeployedURL == "" {
		return "", false, fmt.Errorf("agent succeeded but emitted no DEPLOYED_URL token")
	}

	r.logger.Info("Run finished",
		zap.String("execution_id", r.cfg.ExecutionID),
		zap.String("deployed_url", result.DeployedURL),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result.DeployedURL, false, nil
}

type checkCancelledResponse struct {
	Cancelled bool `json:"cancelled"`
}

// pollCancellation polls the orchestrator's checkCancelled endpoint and
// stops the agent once a cancellation mark is observed. Poll failures are
// logged and skipped; cancellation is advisory.
func (r *Runner) pollCancellation(ctx context.Context, stop context.CancelFunc, observed chan<- struct{}) {
	ticker := time.NewTicker(r.cfg.CancelPollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancelled, err := r.checkCancelled(ctx)
			if err != nil {
				r.logger.Warn("Cancellation check failed",
					zap.String("execution_id", r.cfg.ExecutionID),
					zap.Error(err),
				)
				continue
			}
			if cancelled {
				r.logger.Info("Cancellation observed, stopping agent",
					zap.String("execution_id", r.cfg.ExecutionID),
				)
				close(observed)
				stop()
				return
			}
		}
	}
}

func (r *Runner) checkCancelled(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.CancelCheckURL, nil)
	if err != nil {
		return false, err
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("checkCancelled returned HTTP %d", resp.StatusCode)
	}

	var parsed checkCancelledResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false, err
	}
	return parsed.Cancelled, nil
}
