package dispatcher

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/config"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/jobs"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/models"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/track"
)

// Dispatcher starts analysis job executions and records them in the
// execution tracker. It returns as soon as the platform acknowledges the
// start; completion is never awaited here.
type Dispatcher struct {
	cfg      *config.JobsConfig
	platform jobs.Platform
	tracker  *track.ExecutionTracker
	db       *gorm.DB
	logger   *zap.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. db may be nil; the audit trail is
// best-effort and never gates dispatch.
func NewDispatcher(cfg *config.JobsConfig, platform jobs.Platform, tracker *track.ExecutionTracker, db *gorm.DB, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		platform: platform,
		tracker:  tracker,
		db:       db,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch starts one job execution for the notification and returns the
// generated execution ID. Platform errors propagate unchanged so the queue
// consumer can trigger redelivery.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *models.NotificationMessage) (string, error) {
	if err := d.validateConfig(); err != nil {
		return "", err
	}

	// Unique per call: work key plus dispatch timestamp.
	executionID := fmt.Sprintf("%s-%s-%d", msg.MeetingID, msg.TranscriptID, d.now().Unix())

	// The platform replaces the job's parameter set wholesale on every
	// start, so every value the runner needs is supplied here, static ones
	// included.
	env := []jobs.EnvVar{
		{Name: "EXECUTION_ID", Value: executionID},
		{Name: "MEETING_ID", Value: msg.MeetingID},
		{Name: "TRANSCRIPT_ID", Value: msg.TranscriptID},
		{Name: "TENANT_ID", Value: msg.TenantID},
	}
	if d.cfg.CancelBaseURL != "" {
		env = append(env, jobs.EnvVar{
			Name:  "CANCEL_CHECK_URL",
			Value: d.cancelCheckURL(executionID),
		})
	}

	jobExecution, err := d.platform.Start(ctx, d.cfg.JobName, env)
	if err != nil {
		return "", err
	}

	dispatchedAt := d.now()
	d.tracker.Put(track.ExecutionRecord{
		ExecutionID:  executionID,
		JobExecution: jobExecution,
		DispatchedAt: dispatchedAt,
	})

	d.logger.Info("Dispatched analysis job",
		zap.String("execution_id", executionID),
		zap.String("job_execution", jobExecution),
		zap.String("meeting_id", msg.MeetingID),
		zap.String("transcript_id", msg.TranscriptID),
	)

	d.recordDispatch(msg, executionID, jobExecution, dispatchedAt)
	return executionID, nil
}

// validateConfig fails fast with every missing value named in one message.
func (d *Dispatcher) validateConfig() error {
	var missing []string
	if d.cfg.BaseURL == "" {
		missing = append(missing, "jobs API base URL")
	}
	if d.cfg.Token == "" {
		missing = append(missing, "jobs API token")
	}
	if d.cfg.JobName == "" {
		missing = append(missing, "job name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("dispatcher configuration incomplete, missing: %v", missing)
	}
	return nil
}

func (d *Dispatcher) cancelCheckURL(executionID string) string {
	return fmt.Sprintf("%s/api/v1/checkCancelled?executionId=%s",
		d.cfg.CancelBaseURL, url.QueryEscape(executionID))
}

// recordDispatch writes the audit row. Failures are logged, never
// escalated; the audit trail must not fail a dispatch that the platform
// already accepted.
func (d *Dispatcher) recordDispatch(msg *models.NotificationMessage, executionID, jobExecution string, dispatchedAt time.Time) {
	if d.db == nil {
		return
	}
	record := models.DispatchRecord{
		ExecutionID:  executionID,
		TenantID:     msg.TenantID,
		MeetingID:    msg.MeetingID,
		TranscriptID: msg.TranscriptID,
		JobExecution: jobExecution,
		Status:       models.DispatchStatusDispatched,
		DispatchedAt: dispatchedAt,
	}
	if err := d.db.Create(&record).Error; err != nil {
		d.logger.Error("Failed to persist dispatch record",
			zap.String("execution_id", executionID),
			zap.Error(err),
		)
	}
}
