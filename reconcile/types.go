package reconcile

import (
	"time"

	"bitbucket.org/mmdatafocus/books_sync/diff"
	"bitbucket.org/mmdatafocus/books_sync/models"
)

// DetectRequest reports one diverged local/server pair observed during sync.
type DetectRequest struct {
	EntityType    string                 `json:"entityType" binding:"required"`
	EntityId      string                 `json:"entityId" binding:"required"`
	LocalVersion  map[string]interface{} `json:"localVersion" binding:"required"`
	ServerVersion map[string]interface{} `json:"serverVersion" binding:"required"`
}

// ResolveRequest carries the operator's decision for one pending conflict.
type ResolveRequest struct {
	Action     string                 `json:"action" binding:"required"`
	MergedData map[string]interface{} `json:"mergedData"`
	Reason     *string                `json:"reason"`
}

// ConflictView is the wire shape of a ConflictRecord with the stored JSON
// blobs decoded back into structures.
type ConflictView struct {
	Id             int                      `json:"id"`
	EntityType     models.EntityType        `json:"entityType"`
	EntityId       string                   `json:"entityId"`
	LocalVersion   map[string]interface{}   `json:"localVersion"`
	ServerVersion  map[string]interface{}   `json:"serverVersion"`
	FieldDiffs     []diff.FieldDiff         `json:"fieldDiffs"`
	Severity       diff.Severity            `json:"severity"`
	Status         models.ConflictStatus    `json:"status"`
	Resolution     *models.ResolutionAction `json:"resolution,omitempty"`
	ResolvedRecord map[string]interface{}   `json:"resolvedRecord,omitempty"`
	ResolvedBy     *string                  `json:"resolvedBy,omitempty"`
	Reason         *string                  `json:"reason,omitempty"`
	CreatedAt      time.Time                `json:"createdAt"`
	ResolvedAt     *time.Time               `json:"resolvedAt,omitempty"`
}

func newConflictView(record *models.ConflictRecord) (*ConflictView, error) {
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
	resolved, err := record.ResolvedRecord()
	if err != nil {
		return nil, err
	}
	return &ConflictView{
		Id:             record.ID,
		EntityType:     record.EntityType,
		EntityId:       record.EntityId,
		LocalVersion:   local,
		ServerVersion:  server,
		FieldDiffs:     diffs,
		Severity:       record.Severity,
		Status:         record.Status,
		Resolution:     record.Resolution,
		ResolvedRecord: resolved,
		ResolvedBy:     record.ResolvedBy,
		Reason:         record.Reason,
		CreatedAt:      record.CreatedAt,
		ResolvedAt:     record.ResolvedAt,
	}, nil
}

func newConflictViews(records []*models.ConflictRecord) ([]*ConflictView, error) {
	views := make([]*ConflictView, 0, len(records))
	for _, record := range records {
		view, err := newConflictView(record)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}
