package transport

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestRealSchedulerFires(t *testing.T) {
	sched := NewScheduler()

	var fired int32
	done := make(chan struct{})
	sched.ScheduleAfter(10*time.Millisecond, func() {
		atomic.StoreInt32(&fired, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}

	if atomic.LoadInt32(&fired) != 1 {
		t.Error("expected callback to have fired")
	}
}

func TestRealSchedulerCancel(t *testing.T) {
	sched := NewScheduler()

	var fired int32
	handle := sched.ScheduleAfter(50*time.Millisecond, func() {
		atomic.StoreInt32(&fired, 1)
	})
	handle.Cancel()

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Error("expected cancelled callback not to fire")
	}
}

func TestRealSchedulerCancelTwiceIsSafe(t *testing.T) {
	sched := NewScheduler()
	handle := sched.ScheduleAfter(time.Hour, func() {})
	handle.Cancel()
	handle.Cancel()
}
