package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DispatchLock guards scheduler-fired actions with a non-blocking
// SET NX EX per (phase, group, window). A held lock means another tick
// or process already claimed the boundary; the caller just skips.
// Locks are left to expire instead of being deleted, so the
// at-most-once window spans the whole boundary minute.
type DispatchLock struct {
	rdb    *redis.Client
	expiry time.Duration
}

func NewDispatchLock(rdb *redis.Client, expiry time.Duration) *DispatchLock {
	return &DispatchLock{rdb: rdb, expiry: expiry}
}

func lockKey(phase, group, date string, hour int) string {
	return fmt.Sprintf("task_lock:%s:%s:%s:%d", phase, group, date, hour)
}

// Acquire returns true when this caller owns the boundary. A transient
// store error reports false with the error so the tick can log and move
// on without double-dispatching.
func (l *DispatchLock) Acquire(ctx context.Context, phase, group, date string, hour int) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, lockKey(phase, group, date, hour), "locked", l.expiry).Result()
	if err != nil {
		return false, fmt.Errorf("setnx dispatch lock: %w", err)
	}
	return ok, nil
}
