package transport

import (
	"sync"
	"time"
)

// CancelHandle cancels a previously scheduled callback. Calling it after the
// callback has already fired is a no-op.
type CancelHandle interface {
	Cancel()
}

// Scheduler runs callbacks after a delay without blocking the caller. It
// exists so that timeout-driven components (the pending-RPC table, bucket
// refresh, record replication) depend on an interface rather than directly
// on time.AfterFunc, letting tests substitute a deterministic fake.
type Scheduler interface {
	// ScheduleAfter arranges for fn to run once, no earlier than d from now.
	ScheduleAfter(d time.Duration, fn func()) CancelHandle
}

// realScheduler schedules work on the Go runtime timer wheel via
// time.AfterFunc.
type realScheduler struct{}

// NewScheduler returns the production Scheduler backed by time.AfterFunc.
func NewScheduler() Scheduler {
	return realScheduler{}
}

type timerHandle struct {
	once  sync.Once
	timer *time.Timer
}

func (h *timerHandle) Cancel() {
	h.once.Do(func() {
		h.timer.Stop()
	})
}

func (realScheduler) ScheduleAfter(d time.Duration, fn func()) CancelHandle {
	h := &timerHandle{}
	h.timer = time.AfterFunc(d, fn)
	return h
}
