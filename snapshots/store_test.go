package snapshots

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"bitbucket.org/mmdatafocus/books_sync/utils"
)

// failingSlot wraps a MemorySlot and injects storage errors, modelling a
// full/unavailable backing store.
type failingSlot struct {
	inner    *MemorySlot
	saveErr  error
	loadErr  error
	clearErr error
}

func (f *failingSlot) Load(ctx context.Context) ([]Snapshot, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.inner.Load(ctx)
}

func (f *failingSlot) Save(ctx context.Context, list []Snapshot) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.inner.Save(ctx, list)
}

func (f *failingSlot) Clear(ctx context.Context) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	return f.inner.Clear(ctx)
}

// lockedSlot shares one MemorySlot between stores and hands out the kind of
// cross-session lock the Redis slot provides. It records saves that run
// without the lock held.
type lockedSlot struct {
	inner         *MemorySlot
	mu            sync.Mutex
	depth         int32
	unlockedSaves int32
}

func (l *lockedSlot) LockSlot(ctx context.Context) func() {
	l.mu.Lock()
	atomic.AddInt32(&l.depth, 1)
	return func() {
		atomic.AddInt32(&l.depth, -1)
		l.mu.Unlock()
	}
}

func (l *lockedSlot) Load(ctx context.Context) ([]Snapshot, error) {
	return l.inner.Load(ctx)
}

func (l *lockedSlot) Save(ctx context.Context, list []Snapshot) error {
	if atomic.LoadInt32(&l.depth) == 0 {
		atomic.AddInt32(&l.unlockedSaves, 1)
	}
	return l.inner.Save(ctx, list)
}

func (l *lockedSlot) Clear(ctx context.Context) error {
	return l.inner.Clear(ctx)
}

func payload(n int) map[string]interface{} {
	return map[string]interface{}{"seq": n}
}

func TestStore_RingBound(t *testing.T) {
	t.Setenv("BACKUP_MAX_SNAPSHOTS", "5")
	store := NewStore(NewMemorySlot())
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		if _, err := store.CreateSnapshot(ctx, payload(i)); err != nil {
			t.Fatalf("CreateSnapshot(%d): %v", i, err)
		}
	}

	list := store.ListSnapshots(ctx)
	if len(list) != 5 {
		t.Fatalf("ring must hold exactly 5 snapshots, got %d", len(list))
	}
	// Newest first: 7, 6, 5, 4, 3. The two oldest were evicted.
	for i, want := range []int{7, 6, 5, 4, 3} {
		if got := list[i].Data["seq"]; got != want {
			t.Fatalf("slot %d: expected seq %d, got %v", i, want, got)
		}
	}
}

// Two sessions of the same client write through the shared slot at once.
// The slot lock covers the whole reload+save cycle, so neither session may
// read a stale list and overwrite the other's snapshot.
func TestStore_ConcurrentSessionsKeepEachOthersSnapshots(t *testing.T) {
	t.Setenv("BACKUP_MAX_SNAPSHOTS", "5")
	slot := &lockedSlot{inner: NewMemorySlot()}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 2; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			if _, err := NewStore(slot).CreateSnapshot(ctx, payload(seq)); err != nil {
				t.Errorf("CreateSnapshot(%d): %v", seq, err)
			}
		}(i)
	}
	wg.Wait()

	if n := atomic.LoadInt32(&slot.unlockedSaves); n != 0 {
		t.Fatalf("%d saves ran without the slot lock held", n)
	}

	list := NewStore(slot).ListSnapshots(ctx)
	if len(list) != 2 {
		t.Fatalf("both sessions' snapshots must survive, got %d: %v", len(list), list)
	}
	seen := map[interface{}]bool{}
	for _, snap := range list {
		seen[snap.Data["seq"]] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("a concurrent writer's snapshot was lost: %v", list)
	}
}

func TestStore_SnapshotMetadata(t *testing.T) {
	store := NewStore(NewMemorySlot())
	snap, err := store.CreateSnapshot(context.Background(), map[string]interface{}{"invoices": []interface{}{"a", "b"}})
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if snap.Version != SchemaVersion {
		t.Fatalf("expected schema version %q, got %q", SchemaVersion, snap.Version)
	}
	if snap.Size <= 0 {
		t.Fatalf("size must reflect the serialized payload, got %d", snap.Size)
	}
	if snap.Timestamp.IsZero() {
		t.Fatalf("timestamp must be set")
	}
}

func TestStore_AutoSnapshotThrottle(t *testing.T) {
	store := NewStore(NewMemorySlot())
	ctx := context.Background()

	created, err := store.AutoSnapshot(ctx, payload(1))
	if err != nil || !created {
		t.Fatalf("first auto snapshot must be taken, created=%v err=%v", created, err)
	}
	created, err = store.AutoSnapshot(ctx, payload(2))
	if err != nil {
		t.Fatalf("AutoSnapshot: %v", err)
	}
	if created {
		t.Fatalf("auto snapshot inside the throttle window must no-op")
	}
	if got := len(store.ListSnapshots(ctx)); got != 1 {
		t.Fatalf("throttled call must not add a snapshot, have %d", got)
	}
}

func TestStore_RestoreNotFound(t *testing.T) {
	store := NewStore(NewMemorySlot())
	ctx := context.Background()

	if _, err := store.Restore(ctx, 0); !utils.IsNotFound(err) {
		t.Fatalf("restore from an empty store must be NotFoundError, got %v", err)
	}

	if _, err := store.CreateSnapshot(ctx, payload(1)); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if _, err := store.Restore(ctx, 3); !utils.IsNotFound(err) {
		t.Fatalf("out-of-bounds restore must be NotFoundError, got %v", err)
	}

	data, err := store.Restore(ctx, 0)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if data["seq"] != 1 {
		t.Fatalf("restored payload mismatch: %v", data)
	}
}

func TestStore_PersistFailureRollsBack(t *testing.T) {
	slot := &failingSlot{inner: NewMemorySlot()}
	store := NewStore(slot)
	ctx := context.Background()

	if _, err := store.CreateSnapshot(ctx, payload(1)); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	slot.saveErr = errors.New("quota exceeded")
	_, err := store.CreateSnapshot(ctx, payload(2))
	if !utils.IsPersistence(err) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}

	slot.saveErr = nil
	list := store.ListSnapshots(ctx)
	if len(list) != 1 || list[0].Data["seq"] != 1 {
		t.Fatalf("failed persist must leave the previous list intact: %v", list)
	}
}

func TestStore_ListNeverFails(t *testing.T) {
	slot := &failingSlot{inner: NewMemorySlot()}
	store := NewStore(slot)
	ctx := context.Background()

	if _, err := store.CreateSnapshot(ctx, payload(1)); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	slot.loadErr = fmt.Errorf("storage unreadable")
	list := store.ListSnapshots(ctx)
	if len(list) != 1 {
		t.Fatalf("unreadable slot must fall back to the last known list, got %v", list)
	}
}

func TestStore_ClearAllIdempotent(t *testing.T) {
	slot := &failingSlot{inner: NewMemorySlot()}
	store := NewStore(slot)
	ctx := context.Background()

	if _, err := store.CreateSnapshot(ctx, payload(1)); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	store.ClearAll(ctx)
	if got := len(store.ListSnapshots(ctx)); got != 0 {
		t.Fatalf("store must be empty after ClearAll, have %d", got)
	}

	// Clearing again, even with the backend erroring, still succeeds.
	slot.clearErr = errors.New("storage offline")
	store.ClearAll(ctx)
	if got := len(store.ListSnapshots(ctx)); got != 0 {
		t.Fatalf("ClearAll must stay idempotent, have %d", got)
	}
}
