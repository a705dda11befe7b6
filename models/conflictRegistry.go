package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/books_sync/config"
	"bitbucket.org/mmdatafocus/books_sync/diff"
	"bitbucket.org/mmdatafocus/books_sync/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// ConflictFilters are conjunctive; a nil filter matches all.
type ConflictFilters struct {
	Status     *ConflictStatus
	Severity   *diff.Severity
	EntityType *EntityType
}

// OpenConflict diffs the local/server pair for one entity and registers the
// divergence.
//
// Returns (nil, nil) when the pair is convergent — not an error, callers must
// treat nil as "nothing to do". When a PENDING record already exists for the
// (business, entityType, entityId) key, its diffs/versions/severity are
// refreshed in place and the same record is returned (idempotent
// re-detection). Open/refresh for one business is serialized with an
// advisory lock; the unique pending index is the backstop against a racing
// create slipping through.
func OpenConflict(ctx context.Context, entityType EntityType, entityId string, local, server map[string]interface{}) (*ConflictRecord, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if !entityType.Valid() {
		return nil, utils.NewValidationError("invalid entity type", string(entityType))
	}
	if entityId == "" {
		return nil, utils.NewValidationError("entity id is required", "entityId")
	}

	diffs := diff.Fields(local, server)
	if !diff.HasConflict(diffs) {
		return nil, nil
	}
	severity := diff.ClassifySeverity(diffs)

	localJSON, err := json.Marshal(local)
	if err != nil {
		return nil, err
	}
	serverJSON, err := json.Marshal(server)
	if err != nil {
		return nil, err
	}
	diffsJSON, err := json.Marshal(diffs)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}

	// The advisory lock releases when the closure returns, before the
	// transaction commits. A racer in that window can miss the still
	// uncommitted PENDING row and hit the unique pending index instead;
	// retrying the open then finds the committed row and refreshes it.
	record, err := openConflictTx(ctx, db, businessId, entityType, entityId, severity, localJSON, serverJSON, diffsJSON)
	if err != nil && isDuplicateKeyErr(err) {
		record, err = openConflictTx(ctx, db, businessId, entityType, entityId, severity, localJSON, serverJSON, diffsJSON)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func openConflictTx(ctx context.Context, db *gorm.DB, businessId string, entityType EntityType, entityId string, severity diff.Severity, localJSON, serverJSON, diffsJSON []byte) (*ConflictRecord, error) {
	var record *ConflictRecord
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireConflictLock(tx, businessId); err != nil {
			return err
		}
		defer ReleaseConflictLock(tx, businessId)

		var existing ConflictRecord
		err := tx.
			Where("business_id = ? AND entity_type = ? AND entity_id = ? AND status = ?",
				businessId, entityType, entityId, ConflictStatusPending).
			Take(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err == nil {
			// Refresh the open record in place; same id, no duplicate.
			updates := map[string]interface{}{
				"local_json":       localJSON,
				"server_json":      serverJSON,
				"field_diffs_json": diffsJSON,
				"severity":         severity,
				"updated_at":       time.Now().UTC(),
			}
			if err := tx.Model(&ConflictRecord{}).
				Where("id = ? AND business_id = ?", existing.ID, businessId).
				Updates(updates).Error; err != nil {
				return err
			}
			existing.LocalJSON = localJSON
			existing.ServerJSON = serverJSON
			existing.FieldDiffsJSON = diffsJSON
			existing.Severity = severity
			record = &existing
			return nil
		}

		created := ConflictRecord{
			BusinessId:     businessId,
			EntityType:     entityType,
			EntityId:       entityId,
			PendingKey:     newPendingKey(),
			LocalJSON:      localJSON,
			ServerJSON:     serverJSON,
			FieldDiffsJSON: diffsJSON,
			Severity:       severity,
			Status:         ConflictStatusPending,
			CorrelationId:  correlationIdFromContextOrNew(ctx),
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}
		record = &created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListConflicts returns the business's conflicts, newest first. Cross-tenant
// rows are excluded at the query boundary (explicit business_id filter; the
// tenant guard plugin is belt and braces here).
func ListConflicts(ctx context.Context, filters ConflictFilters) ([]*ConflictRecord, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}

	q := db.WithContext(ctx).Model(&ConflictRecord{}).Where("business_id = ?", businessId)
	if filters.Status != nil {
		q = q.Where("status = ?", *filters.Status)
	}
	if filters.Severity != nil {
		q = q.Where("severity = ?", *filters.Severity)
	}
	if filters.EntityType != nil {
		q = q.Where("entity_type = ?", *filters.EntityType)
	}

	var records []*ConflictRecord
	if err := q.Order("created_at DESC, id DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// GetConflict fetches one conflict by id. Absent and cross-tenant are both
// NotFoundError: other businesses' conflicts must be indistinguishable from
// nonexistent ones.
func GetConflict(ctx context.Context, id int) (*ConflictRecord, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}

	var record ConflictRecord
	err := db.WithContext(ctx).
		Where("id = ? AND business_id = ?", id, businessId).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("conflict", fmt.Sprint(id))
		}
		return nil, err
	}
	return &record, nil
}

// MarkConflictResolved performs the single PENDING -> RESOLVED transition.
// The UPDATE is guarded by status and lock_version so resolution is
// at-most-once: a second caller gets InvalidStateError, never a silent
// overwrite. Must be called inside the resolution transaction.
func MarkConflictResolved(ctx context.Context, tx *gorm.DB, record *ConflictRecord, action ResolutionAction, resolved map[string]interface{}, reason *string) error {
	if !action.Valid() {
		return utils.NewValidationError("invalid resolution action", string(action))
	}
	resolvedJSON, err := json.Marshal(resolved)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	resolvedBy := userNameFromContext(ctx)
	updates := map[string]interface{}{
		"status":        ConflictStatusResolved,
		"resolution":    action,
		"resolved_json": resolvedJSON,
		"resolved_at":   &now,
		"pending_key":   nil,
		"lock_version":  gorm.Expr("lock_version + 1"),
	}
	if resolvedBy != "" {
		updates["resolved_by"] = &resolvedBy
	}
	if reason != nil {
		updates["reason"] = reason
	}

	res := tx.Model(&ConflictRecord{}).
		Where("id = ? AND business_id = ? AND status = ? AND lock_version = ?",
			record.ID, record.BusinessId, ConflictStatusPending, record.LockVersion).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race or the record is gone; report which.
		var current ConflictRecord
		err := tx.Where("id = ? AND business_id = ?", record.ID, record.BusinessId).Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.NewNotFoundError("conflict", fmt.Sprint(record.ID))
		}
		if err != nil {
			return err
		}
		return utils.NewInvalidStateError("resolve", string(current.Status))
	}

	record.Status = ConflictStatusResolved
	record.Resolution = &action
	record.ResolvedJSON = resolvedJSON
	record.ResolvedAt = &now
	record.PendingKey = nil
	record.LockVersion++
	if resolvedBy != "" {
		record.ResolvedBy = &resolvedBy
	}
	if reason != nil {
		record.Reason = reason
	}
	return nil
}

// ConflictSummary is a derived view over the registry; recomputed per
// request, never stored.
type ConflictSummary struct {
	Pending       int64 `json:"pending"`
	Critical      int64 `json:"critical"`
	ResolvedToday int64 `json:"resolvedToday"`
}

func CountConflictSummary(ctx context.Context) (*ConflictSummary, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}

	summary := &ConflictSummary{}
	base := func() *gorm.DB {
		return db.WithContext(ctx).Model(&ConflictRecord{}).Where("business_id = ?", businessId)
	}
	if err := base().Where("status = ?", ConflictStatusPending).Count(&summary.Pending).Error; err != nil {
		return nil, err
	}
	if err := base().
		Where("status = ? AND severity = ?", ConflictStatusPending, diff.SeverityCritical).
		Count(&summary.Critical).Error; err != nil {
		return nil, err
	}
	startOfDay := time.Now().UTC().Truncate(24 * time.Hour)
	if err := base().
		Where("status = ? AND resolved_at >= ?", ConflictStatusResolved, startOfDay).
		Count(&summary.ResolvedToday).Error; err != nil {
		return nil, err
	}
	return summary, nil
}
