package outbox

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/d3clan/dynamic-branch-env/internal/usecase/lifecycle"
)

type EventStatus string

const (
	StatusPending    EventStatus = "pending"
	StatusProcessing EventStatus = "processing"
	StatusCompleted  EventStatus = "completed"
	StatusFailed     EventStatus = "failed"
)

// Event is a durable lifecycle action awaiting delivery to the controller.
// The outbox gives the controller its at-least-once, possibly-duplicated
// delivery contract: redelivery after failure is the retry mechanism, the
// controller's idempotence absorbs the duplicates.
type Event struct {
	ID            int64       `gorm:"primaryKey"`
	ActionType    string      `gorm:"type:varchar(50);not null"`
	EnvironmentID string      `gorm:"type:varchar(255);not null;index"`
	Payload       []byte      `gorm:"type:jsonb;not null"`
	Status        EventStatus `gorm:"type:varchar(50);not null"`
	Attempts      int         `gorm:"not null;default:0"`
	LastError     string      `gorm:"type:text"`
	LockedAt      *time.Time
	NextAttemptAt *time.Time
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Event) TableName() string {
	return "outbox_events"
}

// Enqueue persists a lifecycle action for asynchronous delivery.
func Enqueue(ctx context.Context, db *gorm.DB, action lifecycle.Action) error {
	payload, err := json.Marshal(action)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return db.WithContext(ctx).Create(&Event{
		ActionType:    string(action.Type),
		EnvironmentID: action.EnvironmentID,
		Payload:       payload,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}).Error
}
