package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyLocked is returned when another worker holds the run lock for an
// entity.
var ErrAlreadyLocked = errors.New("entity is locked by another run")

const (
	lastRunPrefix = "last_run:"
	lockPrefix    = "lock:"
)

// Lock is an acquired run lock. Only the holder of the token can release it;
// the TTL bounds how long a crashed worker can block the entity.
type Lock struct {
	entity string
	token  string
}

// Scheduler tracks per-entity run times and hands out exclusive run locks.
type Scheduler struct {
	store    Store
	interval time.Duration
	lockTTL  time.Duration
	now      func() time.Time
}

// New creates a scheduler. Zero interval defaults to 24h, zero lockTTL to
// 30m.
func New(store Store, interval, lockTTL time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &Scheduler{store: store, interval: interval, lockTTL: lockTTL, now: time.Now}
}

// IsDue reports whether the entity's last recorded run is older than the
// interval. An entity that never ran is always due.
func (s *Scheduler) IsDue(ctx context.Context, entity string) (bool, error) {
	v, ok, err := s.store.Get(ctx, lastRunPrefix+entity)
	if err != nil {
		return false, fmt.Errorf("read last run for %s: %w", entity, err)
	}
	if !ok {
		return true, nil
	}
	last, err := time.Parse(time.RFC3339, v)
	if err != nil {
		// Unreadable state never wedges the entity.
		return true, nil
	}
	return s.now().Sub(last) >= s.interval, nil
}

// AcquireLock takes the exclusive run lock for an entity. The returned Lock
// must be released; if the worker dies, the TTL frees the entity.
func (s *Scheduler) AcquireLock(ctx context.Context, entity string) (*Lock, error) {
	token := newToken()
	ok, err := s.store.SetNX(ctx, lockPrefix+entity, token, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lock for %s: %w", entity, err)
	}
	if !ok {
		return nil, ErrAlreadyLocked
	}
	return &Lock{entity: entity, token: token}, nil
}

// Release frees the lock if this holder still owns it. A lock that expired
// and was re-acquired elsewhere is left alone.
func (s *Scheduler) Release(ctx context.Context, l *Lock) error {
	if l == nil {
		return nil
	}
	_, err := s.store.CompareAndDelete(ctx, lockPrefix+l.entity, l.token)
	if err != nil {
		return fmt.Errorf("release lock for %s: %w", l.entity, err)
	}
	return nil
}

// MarkRun records that the entity just completed a run.
func (s *Scheduler) MarkRun(ctx context.Context, entity string) error {
	return s.store.Set(ctx, lastRunPrefix+entity, s.now().UTC().Format(time.RFC3339), 0)
}

// Clear forgets the entity's run history, making it due immediately.
func (s *Scheduler) Clear(ctx context.Context, entity string) error {
	return s.store.Delete(ctx, lastRunPrefix+entity)
}

func newToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
