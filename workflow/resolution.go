package workflow

import (
	"context"
	"encoding/json"
	"errors"

	"bitbucket.org/mmdatafocus/books_sync/config"
	"bitbucket.org/mmdatafocus/books_sync/diff"
	"bitbucket.org/mmdatafocus/books_sync/models"
	"bitbucket.org/mmdatafocus/books_sync/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ApplyResolution computes the authoritative record for a conflict without
// touching storage. Pure; both the resolve endpoint and auto-resolve build
// on it.
//
//   - USE_SERVER / AUTO: the server version verbatim.
//   - USE_LOCAL: the local version verbatim.
//   - MANUAL_MERGE: the server version as base, with caller-supplied payload
//     fields applied as overrides. A payload field that never appeared in the
//     diff set is rejected with ValidationError — merging unrelated fields
//     through the conflict path would bypass the entity's own validation.
func ApplyResolution(local, server map[string]interface{}, diffs []diff.FieldDiff, action models.ResolutionAction, payload map[string]interface{}) (map[string]interface{}, error) {
	switch action {
	case models.ResolutionUseServer, models.ResolutionAuto:
		return server, nil
	case models.ResolutionUseLocal:
		return local, nil
	case models.ResolutionManualMerge:
		known := make(map[string]bool, len(diffs))
		for _, d := range diffs {
			known[d.Field] = true
		}
		var unknown []string
		for field := range payload {
			if !known[field] {
				unknown = append(unknown, field)
			}
		}
		if len(unknown) > 0 {
			return nil, utils.NewValidationError("merge payload references unknown fields", unknown...)
		}

		merged := make(map[string]interface{}, len(server)+len(payload))
		for k, v := range server {
			merged[k] = v
		}
		for k, v := range payload {
			merged[k] = v
		}
		return merged, nil
	}
	return nil, utils.NewValidationError("invalid resolution action", string(action))
}

// ResolveConflict applies the requested action to a PENDING conflict and
// closes it: the registry transition, the hand-off of the winner to the
// authoritative entity store and the outbox event all commit atomically.
// A second resolution of the same record fails with InvalidStateError.
func ResolveConflict(ctx context.Context, record *models.ConflictRecord, action models.ResolutionAction, payload map[string]interface{}, reason *string) (map[string]interface{}, error) {
	if !action.RequestableAction() {
		return nil, utils.NewValidationError("invalid resolution action", string(action))
	}
	return resolveWithAction(ctx, record, action, payload, reason)
}

func resolveWithAction(ctx context.Context, record *models.ConflictRecord, action models.ResolutionAction, payload map[string]interface{}, reason *string) (map[string]interface{}, error) {
	if record == nil {
		return nil, errors.New("conflict record is required")
	}
	logger := config.GetLogger()

	local, err := record.LocalVersion()
	if err != nil {
		return nil, err
	}
	server, err := record.ServerVersion()
	if err != nil {
		return nil, err
	}
	diffs, err := record.FieldDiffs()
	if err != nil {
		return nil, err
	}

	resolved, err := ApplyResolution(local, server, diffs, action, payload)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.MarkConflictResolved(ctx, tx, record, action, resolved, reason); err != nil {
			return err
		}
		if err := entityStore.SaveResolved(ctx, record.BusinessId, record.EntityType, record.EntityId, resolved); err != nil {
			return err
		}
		payloadJSON, err := json.Marshal(resolved)
		if err != nil {
			return err
		}
		if err := models.AppendResolutionEvent(ctx, tx, record, action, payloadJSON); err != nil {
			if config.StrictResolutionAudit() {
				return err
			}
			config.LogError(logger, "resolution.go", "resolveWithAction", "AppendResolutionEvent", record.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// eligibleForAutoResolve is the severity gate: HIGH and CRITICAL conflicts
// always require a human decision. Hard invariant, not a default.
func eligibleForAutoResolve(severity diff.Severity) bool {
	return severity == diff.SeverityLow || severity == diff.SeverityMedium
}

// AutoResolve applies USE_SERVER to every PENDING low/medium conflict of one
// business. The PENDING set is snapshotted when the scan starts; conflicts
// opened mid-scan wait for the next run. Conflicts that fail to resolve
// (typically lost races with a human operator) are skipped, not counted and
// not fatal.
func AutoResolve(ctx context.Context, businessId string) (int, error) {
	if businessId == "" {
		return 0, errors.New("business id is required")
	}
	ctx = utils.SetBusinessIdInContext(ctx, businessId)
	logger := config.GetLogger()

	pending := models.ConflictStatusPending
	candidates := make([]*models.ConflictRecord, 0)
	for _, severity := range []diff.Severity{diff.SeverityLow, diff.SeverityMedium} {
		sev := severity
		records, err := models.ListConflicts(ctx, models.ConflictFilters{Status: &pending, Severity: &sev})
		if err != nil {
			return 0, err
		}
		candidates = append(candidates, records...)
	}

	resolved := 0
	for _, record := range candidates {
		if !eligibleForAutoResolve(record.Severity) {
			continue
		}
		if _, err := resolveWithAction(ctx, record, models.ResolutionAuto, nil, nil); err != nil {
			logger.WithFields(logrus.Fields{
				"field":       "AutoResolve",
				"business_id": businessId,
				"conflict_id": record.ID,
			}).Warn("skipping conflict: " + err.Error())
			continue
		}
		resolved++
	}
	return resolved, nil
}
