package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Timer schedules cancellable one-shot callbacks. Each polling session holds
// exactly one pending timer id at a time, which is its single cancellation
// handle.
type Timer interface {
	ScheduleAfter(delay time.Duration, fn func()) (string, error)
	Cancel(id string) error
	Stop()
}

// timerEntry tracks information about a scheduled timer
type timerEntry struct {
	timer       *time.Timer
	scheduledAt time.Time
	expiresAt   time.Time
}

// SimpleTimer implements Timer using Go's standard time package.
type SimpleTimer struct {
	timers map[string]*timerEntry
	mu     sync.RWMutex
	nextID int64
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	slog.Debug("Creating SimpleTimer")
	return &SimpleTimer{
		timers: make(map[string]*timerEntry),
	}
}

// ScheduleAfter schedules a function to run after a delay.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	t.mu.Lock()
	t.nextID++
	id := fmt.Sprintf("timer_%d", t.nextID)
	t.mu.Unlock()

	slog.Debug("SimpleTimer ScheduleAfter", "id", id, "delay", delay)

	now := time.Now()
	timer := time.AfterFunc(delay, func() {
		fn()
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
	})

	t.mu.Lock()
	t.timers[id] = &timerEntry{
		timer:       timer,
		scheduledAt: now,
		expiresAt:   now.Add(delay),
	}
	t.mu.Unlock()

	return id, nil
}

// Cancel cancels a scheduled function by ID. Cancelling an unknown or
// already-fired timer is a no-op.
func (t *SimpleTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.timers[id]; exists {
		entry.timer.Stop()
		delete(t.timers, id)
		slog.Debug("SimpleTimer Cancel succeeded", "id", id)
		return nil
	}

	slog.Debug("SimpleTimer Cancel: timer not found", "id", id)
	return nil
}

// Stop cancels all scheduled timers.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	slog.Debug("SimpleTimer stopping all timers", "count", len(t.timers))
	for _, entry := range t.timers {
		entry.timer.Stop()
	}
	t.timers = make(map[string]*timerEntry)
}

// ActiveCount returns the number of pending timers.
func (t *SimpleTimer) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.timers)
}
