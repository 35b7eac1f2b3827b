package models

import (
	"time"

	"github.com/google/uuid"
)

// Dispatch record statuses.
const (
	DispatchStatusDispatched = "dispatched"
	DispatchStatusCancelled  = "cancelled"
)

// DispatchRecord is the persisted audit trail of job dispatches. It exists
// for operator visibility only; dedup and cancellation correctness never
// read it.
type DispatchRecord struct {
	ID           uuid.UUID  `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	ExecutionID  string     `gorm:"not null;index" json:"execution_id"`
	TenantID     string     `gorm:"not null" json:"tenant_id"`
	MeetingID    string     `gorm:"not null" json:"meeting_id"`
	TranscriptID string     `gorm:"not null" json:"transcript_id"`
	JobExecution string     `gorm:"not null" json:"job_execution"`
	Status       string     `gorm:"not null;default:'dispatched'" json:"status"`
	DispatchedAt time.Time  `gorm:"not null" json:"dispatched_at"`
	CancelledAt  *time.Time `json:"cancelled_at"`
	CreatedAt    time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (DispatchRecord) TableName() string {
	return "dispatch_records"
}
