package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Outbox publish statuses for ResolutionEvent.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// ResolutionEvent is the transactional-outbox record for a resolved conflict:
// written inside the resolution transaction, published to the notification
// channel asynchronously by the dispatcher after commit. Guarantees the
// notification is never emitted for a rolled-back resolution.
type ResolutionEvent struct {
	ID         int              `gorm:"primary_key;index:idx_resolution_dispatch,priority:3" json:"id"`
	BusinessId string           `gorm:"size:64;not null;index" json:"business_id"`
	ConflictId int              `gorm:"not null;index" json:"conflict_id"`
	EntityType EntityType       `gorm:"size:20;not null" json:"entity_type"`
	EntityId   string           `gorm:"size:128;not null" json:"entity_id"`
	Resolution ResolutionAction `gorm:"size:20;not null" json:"resolution"`
	Payload    []byte           `gorm:"type:json" json:"payload"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_resolution_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_resolution_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e ResolutionEvent) GetBusinessId() string { return e.BusinessId }

// AppendResolutionEvent writes the outbox row inside the caller's resolution
// transaction.
func AppendResolutionEvent(ctx context.Context, tx *gorm.DB, record *ConflictRecord, action ResolutionAction, payload []byte) error {
	event := ResolutionEvent{
		BusinessId:    record.BusinessId,
		ConflictId:    record.ID,
		EntityType:    record.EntityType,
		EntityId:      record.EntityId,
		Resolution:    action,
		Payload:       payload,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&event).Error
}
