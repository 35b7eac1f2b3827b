package models

import (
	"fmt"
	"time"
)

// NotificationMessage identifies one transcript-change event pulled off the
// notifications queue. The (MeetingID, TranscriptID) pair is the logical
// work key used for deduplication.
type NotificationMessage struct {
	TenantID     string    `json:"tenant_id"`
	MeetingID    string    `json:"meeting_id"`
	TranscriptID string    `json:"transcript_id"`
	ReceivedAt   time.Time `json:"received_at"`
}

// WorkKey returns the dedup key for this notification.
func (m *NotificationMessage) WorkKey() string {
	return m.MeetingID + ":" + m.TranscriptID
}

// Validate reports which identifiers are missing, all in one error.
func (m *NotificationMessage) Validate() error {
	var missing []string
	if m.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if m.MeetingID == "" {
		missing = append(missing, "meeting_id")
	}
	if m.TranscriptID == "" {
		missing = append(missing, "transcript_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("notification message missing fields: %v", missing)
	}
	return nil
}
