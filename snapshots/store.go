package snapshots

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/books_sync/config"
	"bitbucket.org/mmdatafocus/books_sync/utils"
)

const (
	defaultMaxSnapshots = 5
	defaultAutoInterval = 5 * time.Minute
)

// Store keeps a bounded, newest-first ring of snapshots in a single Slot.
// Backups are a convenience: reads degrade to the last known list instead of
// failing, and only writes surface PersistenceError.
type Store struct {
	slot         Slot
	maxSnapshots int
	autoInterval time.Duration
	logger       *logrus.Logger

	mu   sync.Mutex
	list []Snapshot
}

func NewStore(slot Slot) *Store {
	return &Store{
		slot:         slot,
		maxSnapshots: envInt("BACKUP_MAX_SNAPSHOTS", defaultMaxSnapshots),
		autoInterval: time.Duration(envInt("BACKUP_AUTO_INTERVAL_SECONDS", int(defaultAutoInterval/time.Second))) * time.Second,
		logger:       config.GetLogger(),
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// CreateSnapshot captures data as the newest entry and evicts beyond the
// ring bound. The retained list only advances once the slot write succeeds;
// a failed persist leaves the previous list intact.
func (s *Store) CreateSnapshot(ctx context.Context, data map[string]interface{}) (Snapshot, error) {
	snap, err := newSnapshot(data)
	if err != nil {
		return Snapshot{}, utils.NewPersistenceError("createSnapshot", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The slot lock spans reload through save; two sessions holding it in
	// turn can no longer read the same list and drop each other's entries.
	if locker, ok := s.slot.(SlotLocker); ok {
		release := locker.LockSlot(ctx)
		defer release()
	}

	s.refreshLocked(ctx)

	next := make([]Snapshot, 0, len(s.list)+1)
	next = append(next, snap)
	next = append(next, s.list...)
	if len(next) > s.maxSnapshots {
		next = next[:s.maxSnapshots]
	}

	if err := s.slot.Save(ctx, next); err != nil {
		return Snapshot{}, utils.NewPersistenceError("createSnapshot", err)
	}
	s.list = next
	return snap, nil
}

// AutoSnapshot is the throttled variant: it no-ops while the newest snapshot
// is younger than the configured interval. Returns whether a snapshot was
// taken.
func (s *Store) AutoSnapshot(ctx context.Context, data map[string]interface{}) (bool, error) {
	s.mu.Lock()
	s.refreshLocked(ctx)
	if len(s.list) > 0 && time.Since(s.list[0].Timestamp) < s.autoInterval {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	if _, err := s.CreateSnapshot(ctx, data); err != nil {
		return false, err
	}
	return true, nil
}

// ListSnapshots returns the retained snapshots, newest first. It never fails:
// an unreadable slot logs a warning and yields the last known list.
func (s *Store) ListSnapshots(ctx context.Context) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked(ctx)
	out := make([]Snapshot, len(s.list))
	copy(out, s.list)
	return out
}

// Restore returns the payload of the snapshot at index (0 = newest).
func (s *Store) Restore(ctx context.Context, index int) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked(ctx)
	if index < 0 || index >= len(s.list) {
		return nil, utils.NewNotFoundError("snapshot", strconv.Itoa(index))
	}
	return s.list[index].Data, nil
}

// ClearAll wipes the retained list. Best-effort: slot errors are logged and
// swallowed, and clearing an already-empty store is a no-op.
func (s *Store) ClearAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.slot.Clear(ctx); err != nil {
		config.LogError(s.logger, "snapshots", "ClearAll", "clearing backup slot", nil, err)
	}
	s.list = nil
}

// refreshLocked re-reads the slot so concurrent writers on the same slot
// (another tab, another pod) are picked up. Read failures keep the cached
// list; backups must not take requests down.
func (s *Store) refreshLocked(ctx context.Context) {
	list, err := s.slot.Load(ctx)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"module": "snapshots",
		}).Warn("backup slot unreadable; keeping last known list: " + err.Error())
		return
	}
	s.list = list
}
