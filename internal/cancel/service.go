package cancel

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/config"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/jobs"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/models"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/track"
)

// Result is the outcome of a cancellation request. Conflict means more than
// one execution was running and none was stopped.
type Result struct {
	Stopped  bool   `json:"stopped"`
	Conflict bool   `json:"conflict,omitempty"`
	Reason   string `json:"reason"`
}

// Notifier delivers a best-effort "work was cancelled" message to an
// outbound channel.
type Notifier interface {
	NotifyCancelled(ctx context.Context, executionID, reason string) error
}

// Service stops dispatched job executions on request.
type Service struct {
	cfg      *config.JobsConfig
	platform jobs.Platform
	tracker  *track.ExecutionTracker
	marks    *track.CancelMarks
	notifier Notifier
	db       *gorm.DB
	logger   *zap.Logger
}

// NewService creates a cancellation service. notifier and db may be nil;
// both are best-effort side channels.
func NewService(cfg *config.JobsConfig, platform jobs.Platform, tracker *track.ExecutionTracker, marks *track.CancelMarks, notifier Notifier, db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{
		cfg:      cfg,
		platform: platform,
		tracker:  tracker,
		marks:    marks,
		notifier: notifier,
		db:       db,
		logger:   logger,
	}
}

// Cancel stops the execution identified by executionID. jobRef optionally
// names the job definition to search when the tracker has no record, for
// requests landing on an instance other than the one that dispatched.
//
// Cancellation is advisory and race-prone: the job may finish between
// lookup and stop, so live status is re-checked immediately before stopping
// and "already finished" is a success outcome.
func (s *Service) Cancel(ctx context.Context, executionID, jobRef string) (Result, error) {
	// Recorded regardless of outcome so an in-flight job polling its own
	// cancellation status can observe the request even after the tracker
	// entry is gone.
	s.marks.Mark(executionID)

	jobName := jobRef
	if jobName == "" {
		jobName = s.cfg.JobName
	}

	result, err := s.stop(ctx, executionID, jobName)
	if err != nil {
		return Result{}, err
	}

	if result.Stopped {
		s.recordCancelled(executionID)
		s.notify(ctx, executionID, result.Reason)
	}

	s.logger.Info("Cancellation request handled",
		zap.String("execution_id", executionID),
		zap.Bool("stopped", result.Stopped),
		zap.Bool("conflict", result.Conflict),
		zap.String("reason", result.Reason),
	)
	return result, nil
}

func (s *Service) stop(ctx context.Context, executionID, jobName string) (Result, error) {
	if rec, ok := s.tracker.Get(executionID); ok {
		// The tracker entry is consumed either way; a second cancel for
		// the same execution falls through to the list path.
		defer s.tracker.Remove(executionID)

		status, err := s.platform.Status(ctx, jobName, rec.JobExecution)
		if err != nil {
			return Result{}, err
		}
		if !status.IsActive() {
			return Result{Stopped: false, Reason: "already completed"}, nil
		}
		if err := s.platform.Stop(ctx, jobName, rec.JobExecution); err != nil {
			return Result{}, err
		}
		return Result{Stopped: true, Reason: "stopped " + rec.JobExecution}, nil
	}

	// No local record: dispatched by another instance or the record
	// expired. Fall back to enumerating live executions.
	running, err := s.platform.ListRunning(ctx, jobName)
	if err != nil {
		return Result{}, err
	}

	switch len(running) {
	case 0:
		return Result{Stopped: false, Reason: "nothing to cancel, the job may have already completed"}, nil
	case 1:
		if err := s.platform.Stop(ctx, jobName, running[0].Name); err != nil {
			return Result{}, err
		}
		return Result{Stopped: true, Reason: "stopped " + running[0].Name}, nil
	default:
		// Never guess which of several concurrent executions to kill.
		return Result{
			Stopped:  false,
			Conflict: true,
			Reason:   "multiple executions running for this job, refusing to stop any without a tracked execution",
		}, nil
	}
}

// IsCancelled reports whether executionID carries a fresh cancellation
// mark. Served to jobs polling their own status.
func (s *Service) IsCancelled(executionID string) bool {
	return s.marks.IsMarked(executionID)
}

func (s *Service) recordCancelled(executionID string) {
	if s.db == nil {
		return
	}
	now := time.Now().UTC()
	err := s.db.Model(&models.DispatchRecord{}).
		Where("execution_id = ?", executionID).
		Updates(map[string]interface{}{
			"status":       models.DispatchStatusCancelled,
			"cancelled_at": now,
			"updated_at":   now,
		}).Error
	if err != nil {
		s.logger.Error("Failed to record cancellation in dispatch history",
			zap.String("execution_id", executionID),
			zap.Error(err),
		)
	}
}

func (s *Service) notify(ctx context.Context, executionID, reason string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyCancelled(ctx, executionID, reason); err != nil {
		s.logger.Warn("Failed to send cancellation notification",
			zap.String("execution_id", executionID),
			zap.Error(err),
		)
	}
}
