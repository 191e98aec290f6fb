package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSimpleTimerScheduleAfter(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	var fired atomic.Bool
	done := make(chan struct{})
	_, err := timer.ScheduleAfter(10*time.Millisecond, func() {
		fired.Store(true)
		close(done)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	if !fired.Load() {
		t.Error("callback should have run")
	}
}

func TestSimpleTimerCancel(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	var fired atomic.Bool
	id, err := timer.ScheduleAfter(50*time.Millisecond, func() { fired.Store(true) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := timer.Cancel(id); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled timer should not fire")
	}
	if timer.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0", timer.ActiveCount())
	}
}

func TestSimpleTimerCancelIdempotent(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	id, _ := timer.ScheduleAfter(time.Hour, func() {})
	if err := timer.Cancel(id); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	if err := timer.Cancel(id); err != nil {
		t.Fatalf("second cancel should be a no-op, got %v", err)
	}
	if err := timer.Cancel("timer_does_not_exist"); err != nil {
		t.Fatalf("cancelling unknown id should be a no-op, got %v", err)
	}
}

func TestSimpleTimerStopAll(t *testing.T) {
	timer := NewSimpleTimer()
	timer.ScheduleAfter(time.Hour, func() {})
	timer.ScheduleAfter(time.Hour, func() {})
	timer.Stop()
	if timer.ActiveCount() != 0 {
		t.Errorf("ActiveCount after Stop = %d, want 0", timer.ActiveCount())
	}
}
