package snapshots

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/books_sync/config"
)

// Slot is the single named storage location holding one client's snapshot
// list, newest first. Implementations persist the whole list on every write;
// the store above owns ordering and eviction.
type Slot interface {
	Load(ctx context.Context) ([]Snapshot, error)
	Save(ctx context.Context, list []Snapshot) error
	Clear(ctx context.Context) error
}

// SlotLocker is implemented by slots shared across processes. LockSlot guards
// a whole read-modify-write cycle; the returned func releases the lock and is
// a no-op when the lock could not be obtained (the caller proceeds
// last-writer-wins rather than failing the backup).
type SlotLocker interface {
	LockSlot(ctx context.Context) func()
}

// RedisSlot keeps one client's backup list under backup:{businessId}:{clientId}.
// The store takes the slot lock around reload+save so two sessions of the same
// client don't lose each other's updates.
type RedisSlot struct {
	key    string
	logger *logrus.Logger
}

func NewRedisSlot(businessId, clientId string) *RedisSlot {
	return &RedisSlot{
		key:    fmt.Sprintf("backup:%s:%s", businessId, clientId),
		logger: config.GetLogger(),
	}
}

func (s *RedisSlot) Load(ctx context.Context) ([]Snapshot, error) {
	var list []Snapshot
	found, err := config.GetRedisObject(s.key, &list)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return list, nil
}

func (s *RedisSlot) Save(ctx context.Context, list []Snapshot) error {
	return config.SetRedisObject(s.key, list, 0)
}

func (s *RedisSlot) Clear(ctx context.Context) error {
	return config.RemoveRedisKey(s.key)
}

func (s *RedisSlot) LockSlot(ctx context.Context) func() {
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}
	}
	lock, err := locker.Obtain(ctx, "lock:"+s.key, 10*time.Second, nil)
	if err == redislock.ErrNotObtained {
		s.logger.WithFields(logrus.Fields{
			"module": "snapshots",
			"key":    s.key,
		}).Warn("could not obtain backup slot lock; saving last-writer-wins")
		return func() {}
	} else if err != nil {
		s.logger.WithFields(logrus.Fields{
			"module": "snapshots",
			"key":    s.key,
		}).Warn("error obtaining backup slot lock; saving last-writer-wins: " + err.Error())
		return func() {}
	}
	return func() {
		_ = lock.Release(ctx)
	}
}

// MemorySlot backs the store without Redis. Used by tests.
type MemorySlot struct {
	list []Snapshot
}

func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

func (s *MemorySlot) Load(ctx context.Context) ([]Snapshot, error) {
	out := make([]Snapshot, len(s.list))
	copy(out, s.list)
	return out, nil
}

func (s *MemorySlot) Save(ctx context.Context, list []Snapshot) error {
	s.list = make([]Snapshot, len(list))
	copy(s.list, list)
	return nil
}

func (s *MemorySlot) Clear(ctx context.Context) error {
	s.list = nil
	return nil
}
