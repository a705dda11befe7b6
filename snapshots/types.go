package snapshots

import (
	"encoding/json"
	"time"
)

// SchemaVersion is stamped into every snapshot so older backups remain
// readable after the payload shape changes.
const SchemaVersion = "1.0"

// Snapshot is an immutable point-in-time capture of a client's working set.
// Data maps bucket keys (e.g. "invoices", "products") to whatever the client
// was holding; the store never interprets it.
type Snapshot struct {
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Data      map[string]interface{} `json:"data"`
	Size      int                    `json:"size"`
}

func newSnapshot(data map[string]interface{}) (Snapshot, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Timestamp: time.Now().UTC(),
		Version:   SchemaVersion,
		Data:      data,
		Size:      len(raw),
	}, nil
}
