package models

import (
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/books_sync/diff"
)

// ConflictRecord is one detected divergence between the locally-held and
// server-held version of an entity. Records are tenant-scoped and never
// physically deleted; resolved records stay for audit and are filtered out
// of active views.
//
// The unique index over (business_id, entity_type, entity_id, pending_key)
// enforces "exactly one PENDING record per key" at the data layer:
// pending_key is "P" while the record is PENDING and NULL once resolved
// (MySQL unique indexes ignore NULLs).
type ConflictRecord struct {
	ID         int        `gorm:"primary_key" json:"id"`
	BusinessId string     `gorm:"size:64;not null;uniqueIndex:uniq_pending_conflict,priority:1" json:"business_id"`
	EntityType EntityType `gorm:"size:20;not null;uniqueIndex:uniq_pending_conflict,priority:2" json:"entity_type"`
	EntityId   string     `gorm:"size:128;not null;uniqueIndex:uniq_pending_conflict,priority:3" json:"entity_id"`
	PendingKey *string    `gorm:"size:1;uniqueIndex:uniq_pending_conflict,priority:4" json:"-"`

	LocalJSON      []byte `gorm:"type:json" json:"-"`
	ServerJSON     []byte `gorm:"type:json" json:"-"`
	FieldDiffsJSON []byte `gorm:"type:json" json:"-"`

	Severity diff.Severity  `gorm:"size:10;not null;index" json:"severity"`
	Status   ConflictStatus `gorm:"size:10;not null;index" json:"status"`

	Resolution   *ResolutionAction `gorm:"size:20" json:"resolution,omitempty"`
	ResolvedJSON []byte            `gorm:"type:json" json:"-"`
	ResolvedBy   *string           `gorm:"size:100" json:"resolved_by,omitempty"`
	Reason       *string           `gorm:"type:text" json:"reason,omitempty"`
	ResolvedAt   *time.Time        `json:"resolved_at,omitempty"`

	// LockVersion is bumped on resolution; the resolve UPDATE is guarded by
	// it so two resolutions can never both win.
	LockVersion int `gorm:"not null;default:0" json:"-"`

	CorrelationId string    `gorm:"size:64" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c ConflictRecord) GetBusinessId() string { return c.BusinessId }

const pendingKeyMarker = "P"

func newPendingKey() *string {
	k := pendingKeyMarker
	return &k
}

// LocalVersion decodes the client-side copy of the entity.
func (c *ConflictRecord) LocalVersion() (map[string]interface{}, error) {
	return decodeEntity(c.LocalJSON)
}

// ServerVersion decodes the system-of-record copy of the entity.
func (c *ConflictRecord) ServerVersion() (map[string]interface{}, error) {
	return decodeEntity(c.ServerJSON)
}

// FieldDiffs decodes the stored field-level diff sequence.
func (c *ConflictRecord) FieldDiffs() ([]diff.FieldDiff, error) {
	if len(c.FieldDiffsJSON) == 0 {
		return nil, nil
	}
	var diffs []diff.FieldDiff
	if err := json.Unmarshal(c.FieldDiffsJSON, &diffs); err != nil {
		return nil, err
	}
	return diffs, nil
}

// ResolvedRecord decodes the authoritative record produced at resolution
// time. Nil while the conflict is PENDING.
func (c *ConflictRecord) ResolvedRecord() (map[string]interface{}, error) {
	if len(c.ResolvedJSON) == 0 {
		return nil, nil
	}
	return decodeEntity(c.ResolvedJSON)
}

func decodeEntity(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
