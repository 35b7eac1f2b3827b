package handlers

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/config"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/models"
)

// Publisher is the durable-queue write side the ingestor enqueues to.
type Publisher interface {
	PublishBatch(queue string, bodies [][]byte) error
}

// WebhookHandler is the public entry point for transcript-change
// notifications. It validates and enqueues; it never dispatches.
type WebhookHandler struct {
	cfg       *config.WebhookConfig
	queue     string
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewWebhookHandler(cfg *config.WebhookConfig, queue string, publisher Publisher, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		cfg:       cfg,
		queue:     queue,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// notificationEntry is one element of the upstream batch payload.
type notificationEntry struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType"`
	Resource       string `json:"resource"`
	TenantID       string `json:"tenantId"`
	ResourceData   struct {
		ODataType string `json:"@odata.type"`
		ID        string `json:"id"`
		MeetingID string `json:"meetingId"`
	} `json:"resourceData"`
}

type notificationBatch struct {
	Value []notificationEntry `json:"value"`
}

type ingestSummary struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Resource path form:
// communications/onlineMeetings('<meetingId>')/transcripts('<transcriptId>')
var resourcePathPattern = regexp.MustCompile(`onlineMeetings\('([^']+)'\)/transcripts\('([^']+)'\)`)

// Handle processes POST /webhook. The subscription handshake echoes the
// validation token back untouched; real batches are validated per entry
// and enqueued. Invalid entries are skipped, never surfaced as an HTTP
// failure, so the event source has no reason to retry bad data.
func (h *WebhookHandler) Handle(c *fiber.Ctx) error {
	if token := c.Query("validationToken"); token != "" {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.Status(fiber.StatusOK).SendString(token)
	}

	var batch notificationBatch
	if err := json.Unmarshal(c.Body(), &batch); err != nil {
		h.logger.Warn("Unparseable notification payload",
			zap.Error(err),
			zap.Int("body_bytes", len(c.Body())),
		)
		return c.Status(fiber.StatusAccepted).JSON(ingestSummary{})
	}

	summary := ingestSummary{}
	var bodies [][]byte

	for _, entry := range batch.Value {
		msg, reason := h.validateEntry(&entry)
		if msg == nil {
			summary.Rejected++
			h.logger.Warn("Rejected notification entry",
				zap.String("reason", reason),
				zap.String("subscription_id", entry.SubscriptionID),
				zap.String("change_type", entry.ChangeType),
			)
			continue
		}

		payload, err := json.Marshal(msg)
		if err != nil {
			summary.Rejected++
			h.logger.Error("Failed to marshal notification message", zap.Error(err))
			continue
		}
		encoded := base64.StdEncoding.EncodeToString(payload)
		bodies = append(bodies, []byte(encoded))
		summary.Accepted++
	}

	if len(bodies) > 0 {
		if err := h.publisher.PublishBatch(h.queue, bodies); err != nil {
			// Infrastructure failure, not validation: a 5xx here lets the
			// event source redeliver the whole batch.
			h.logger.Error("Failed to enqueue notification batch",
				zap.Int("batch_size", len(bodies)),
				zap.Error(err),
			)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to enqueue notifications",
			})
		}
	}

	h.logger.Info("Webhook batch ingested",
		zap.Int("accepted", summary.Accepted),
		zap.Int("rejected", summary.Rejected),
	)
	return c.Status(fiber.StatusAccepted).JSON(summary)
}

// validateEntry checks one entry and extracts its identifiers. A nil
// message means rejection, with the reason for logging.
func (h *WebhookHandler) validateEntry(entry *notificationEntry) (*models.NotificationMessage, string) {
	if entry.ClientState != h.cfg.ClientState {
		return nil, "client state mismatch"
	}

	declaredType := entry.ResourceData.ODataType
	if declaredType == "" {
		declaredType = entry.Resource
	}
	if !strings.Contains(strings.ToLower(declaredType), strings.ToLower(h.cfg.ResourceType)) {
		return nil, "unexpected resource type " + declaredType
	}

	meetingID, transcriptID := extractIDs(entry)
	msg := &models.NotificationMessage{
		TenantID:     entry.TenantID,
		MeetingID:    meetingID,
		TranscriptID: transcriptID,
		ReceivedAt:   h.now().UTC(),
	}
	if err := msg.Validate(); err != nil {
		return nil, err.Error()
	}
	return msg, ""
}

// extractIDs pulls the meeting and transcript IDs from the structured
// resource path, falling back to the resourceData fields.
func extractIDs(entry *notificationEntry) (meetingID, transcriptID string) {
	if m := resourcePathPattern.FindStringSubmatch(entry.Resource); m != nil {
		return m[1], m[2]
	}
	return entry.ResourceData.MeetingID, entry.ResourceData.ID
}
