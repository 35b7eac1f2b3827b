package consumer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/cancel"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/config"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/dispatcher"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/handlers"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/jobs"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/models"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/track"
)

// capturePublisher stands in for the queue between the ingest and consume
// halves of the scenario.
type capturePublisher struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (c *capturePublisher) PublishBatch(queue string, bodies [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, bodies...)
	return nil
}

// scenarioPlatform is an in-memory job platform: one live execution at a
// time, stoppable, listable.
type scenarioPlatform struct {
	mu      sync.Mutex
	nextID  int
	running map[string]jobs.EnvVar // execution name -> EXECUTION_ID env
	stopped []string
}

func newScenarioPlatform() *scenarioPlatform {
	return &scenarioPlatform{running: make(map[string]jobs.EnvVar)}
}

func (p *scenarioPlatform) Start(ctx context.Context, jobName string, env []jobs.EnvVar) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	name := "exec-" + jobName + "-" + time.Now().Format("150405") + "-" + string(rune('a'+p.nextID))
	for _, e := range env {
		if e.Name == "EXECUTION_ID" {
			p.running[name] = e
		}
	}
	return name, nil
}

func (p *scenarioPlatform) Status(ctx context.Context, jobName, executionName string) (jobs.ExecutionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.running[executionName]; ok {
		return jobs.StatusRunning, nil
	}
	return jobs.StatusStopped, nil
}

func (p *scenarioPlatform) Stop(ctx context.Context, jobName, executionName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, executionName)
	p.stopped = append(p.stopped, executionName)
	return nil
}

func (p *scenarioPlatform) ListRunning(ctx context.Context, jobName string) ([]jobs.Execution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []jobs.Execution
	for name := range p.running {
		out = append(out, jobs.Execution{Name: name, Status: jobs.StatusRunning})
	}
	return out, nil
}

// TestNotificationToCancellationFlow walks one notification through the
// whole pipeline: webhook ingest, queue body decode, dedup and dispatch,
// then cancellation of the started job.
func TestNotificationToCancellationFlow(t *testing.T) {
	logger := zap.NewNop()

	// Ingest side.
	publisher := &capturePublisher{}
	webhookCfg := &config.WebhookConfig{ClientState: "shared-secret", ResourceType: "callTranscript"}
	webhook := handlers.NewWebhookHandler(webhookCfg, "transcript-notifications", publisher, logger)

	app := fiber.New()
	app.Post("/webhook", webhook.Handle)

	body := `{"value":[{
		"subscriptionId":"sub-1",
		"clientState":"shared-secret",
		"changeType":"created",
		"tenantId":"tenant-1",
		"resource":"communications/onlineMeetings('m1')/transcripts('t1')",
		"resourceData":{"@odata.type":"#microsoft.graph.callTranscript","id":"t1","meetingId":"m1"}
	}]}`
	req := httptest.NewRequest(fiber.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	respBody, _ := io.ReadAll(resp.Body)
	var summary struct {
		Accepted int `json:"accepted"`
		Rejected int `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal(respBody, &summary))
	require.Equal(t, 1, summary.Accepted)
	require.Len(t, publisher.bodies, 1)

	// Consume side: same decode the queue consumer performs.
	decoded, err := base64.StdEncoding.DecodeString(string(publisher.bodies[0]))
	require.NoError(t, err)

	var msg models.NotificationMessage
	require.NoError(t, json.Unmarshal(decoded, &msg))
	assert.Equal(t, "m1:t1", msg.WorkKey())

	platform := newScenarioPlatform()
	tracker := track.NewExecutionTracker(track.DefaultExecutionTTL)
	marks := track.NewCancelMarks(track.DefaultCancelMarkTTL)
	dedup := track.NewDedupSet(track.DefaultDedupTTL)
	jobsCfg := &config.JobsConfig{BaseURL: "https://jobs.internal", Token: "tok", JobName: "transcript-analysis"}

	disp := dispatcher.NewDispatcher(jobsCfg, platform, tracker, nil, logger)
	pipeline := NewPipeline(nil, nil, dedup, disp, logger)

	require.NoError(t, pipeline.HandleEvent(string(decoded)))

	// Exactly one execution started, tagged with the derived execution ID.
	platform.mu.Lock()
	require.Len(t, platform.running, 1)
	var executionID string
	for _, env := range platform.running {
		executionID = env.Value
	}
	platform.mu.Unlock()
	assert.True(t, strings.HasPrefix(executionID, "m1-t1-"))

	// A redelivered copy of the same notification is deduplicated.
	require.NoError(t, pipeline.HandleEvent(string(decoded)))
	platform.mu.Lock()
	assert.Len(t, platform.running, 1)
	platform.mu.Unlock()

	// Cancellation via the shared tracker stops the tracked execution.
	svc := cancel.NewService(jobsCfg, platform, tracker, marks, nil, nil, logger)
	result, err := svc.Cancel(context.Background(), executionID, "")
	require.NoError(t, err)
	assert.True(t, result.Stopped)
	assert.True(t, svc.IsCancelled(executionID))

	platform.mu.Lock()
	assert.Empty(t, platform.running)
	assert.Len(t, platform.stopped, 1)
	platform.mu.Unlock()

	// A second cancel finds nothing live and reports that without error.
	result, err = svc.Cancel(context.Background(), executionID, "")
	require.NoError(t, err)
	assert.False(t, result.Stopped)
	assert.False(t, result.Conflict)
	assert.Contains(t, result.Reason, "nothing to cancel")
}
