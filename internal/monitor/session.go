package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MichaelRobotics/Hustler-sub005/internal/messaging"
	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
	"github.com/MichaelRobotics/Hustler-sub005/internal/ratelimit"
	"github.com/MichaelRobotics/Hustler-sub005/internal/scheduler"
	"github.com/MichaelRobotics/Hustler-sub005/internal/store"
)

// Default polling intervals. A fresh session polls fast to keep latency low
// for users who reply immediately, then settles to the regular interval once
// the initial window has elapsed.
const (
	DefaultInitialInterval = 5 * time.Second
	DefaultRegularInterval = 10 * time.Second
	DefaultInitialWindow   = 60 * time.Second
)

// SessionIntervals configures a session's two-tier polling schedule.
type SessionIntervals struct {
	Initial       time.Duration
	Regular       time.Duration
	InitialWindow time.Duration
}

// DefaultSessionIntervals returns the production schedule.
func DefaultSessionIntervals() SessionIntervals {
	return SessionIntervals{
		Initial:       DefaultInitialInterval,
		Regular:       DefaultRegularInterval,
		InitialWindow: DefaultInitialWindow,
	}
}

// Session is a per-conversation adaptive-interval polling loop. It fetches
// new inbound messages from the DM feed and feeds them through the Advancer.
// Cycles are strictly sequential: the next tick is scheduled only after the
// current cycle's side effects have completed.
type Session struct {
	conversationID string
	experienceID   string
	userID         string

	store    store.Store
	svc      messaging.Service
	limiter  ratelimit.Limiter
	advancer *Advancer
	metrics  *MetricsCollector
	timer    scheduler.Timer

	intervals SessionIntervals
	now       func() time.Time

	// onStopped is invoked once when the session leaves the active state, so
	// the manager can drop its registry entry.
	onStopped func()

	mu                sync.Mutex
	active            bool
	startedAt         time.Time
	timerID           string
	lastSeenMessageID string
}

// NewSession creates a Session. It does not start polling until Start is
// called.
func NewSession(experienceID, conversationID, userID string, st store.Store, svc messaging.Service, limiter ratelimit.Limiter, advancer *Advancer, metrics *MetricsCollector, timer scheduler.Timer, intervals SessionIntervals, onStopped func()) *Session {
	return &Session{
		conversationID: conversationID,
		experienceID:   experienceID,
		userID:         userID,
		store:          st,
		svc:            svc,
		limiter:        limiter,
		advancer:       advancer,
		metrics:        metrics,
		timer:          timer,
		intervals:      intervals,
		now:            time.Now,
		onStopped:      onStopped,
	}
}

// SetNowFunc overrides the clock, for tests.
func (s *Session) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// ConversationID returns the conversation this session watches.
func (s *Session) ConversationID() string { return s.conversationID }

// Active reports whether the session is still polling.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Start marks the session active and runs the first poll cycle immediately,
// without waiting for a timer tick.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.startedAt = s.now()
	s.mu.Unlock()

	slog.Info("PollingSession started", "experienceID", s.experienceID, "conversationID", s.conversationID, "userID", s.userID)
	go s.runCycle(ctx)
}

// Stop clears the pending timer and marks the session stopped. Safe to call
// from any goroutine and idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	timerID := s.timerID
	s.timerID = ""
	s.mu.Unlock()

	if timerID != "" {
		if err := s.timer.Cancel(timerID); err != nil {
			slog.Error("PollingSession failed to cancel timer", "error", err, "conversationID", s.conversationID)
		}
	}
	slog.Info("PollingSession stopped", "experienceID", s.experienceID, "conversationID", s.conversationID)
	if s.onStopped != nil {
		s.onStopped()
	}
}

// NextInterval returns the delay before the next cycle given how long the
// session has been running.
func (s *Session) NextInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.now().Sub(s.startedAt) < s.intervals.InitialWindow {
		return s.intervals.Initial
	}
	return s.intervals.Regular
}

// runCycle performs one poll cycle and, if the session is still active,
// schedules the next one.
func (s *Session) runCycle(ctx context.Context) {
	if !s.Active() {
		return
	}
	if ctx.Err() != nil {
		s.Stop()
		return
	}

	s.poll(ctx)

	if !s.Active() {
		return
	}
	interval := s.NextInterval()

	id, err := s.timer.ScheduleAfter(interval, func() { s.runCycle(ctx) })
	if err != nil {
		slog.Error("PollingSession failed to schedule next cycle", "error", err, "conversationID", s.conversationID)
		s.Stop()
		return
	}

	s.mu.Lock()
	if !s.active {
		// Stop raced with the reschedule; cancel the fresh timer.
		s.mu.Unlock()
		if cancelErr := s.timer.Cancel(id); cancelErr != nil {
			slog.Error("PollingSession failed to cancel raced timer", "error", cancelErr, "conversationID", s.conversationID)
		}
		return
	}
	s.timerID = id
	s.mu.Unlock()
}

// poll is one cycle: admission check, conversation liveness check, feed
// fetch, and state-machine advance. Transient failures are logged and the
// session keeps polling; unauthorized and not-found stop it.
func (s *Session) poll(ctx context.Context) {
	admitted, err := s.limiter.Admit(ctx, s.experienceID, ratelimit.OpDMPolling)
	if err != nil {
		slog.Error("PollingSession admission check failed", "error", err, "experienceID", s.experienceID)
		s.metrics.RecordError(s.experienceID)
		return
	}
	if !admitted {
		s.metrics.RecordRateLimitHit(s.experienceID)
		return
	}

	start := s.now()

	conv, err := s.store.GetConversation(s.experienceID, s.conversationID)
	if err != nil {
		slog.Error("PollingSession conversation lookup failed", "error", err, "conversationID", s.conversationID)
		s.metrics.RecordError(s.experienceID)
		return
	}
	if conv == nil || conv.Status != models.ConversationStatusActive {
		// Presumed deleted or completed elsewhere; stop without noise.
		slog.Debug("PollingSession conversation no longer active", "conversationID", s.conversationID)
		s.Stop()
		return
	}

	msg, err := s.svc.FetchLatestUserMessage(ctx, s.userID)
	s.metrics.RecordRequest(s.experienceID, s.now().Sub(start))
	if err != nil {
		s.handleFetchError(err)
		return
	}
	if msg == nil {
		return
	}

	s.mu.Lock()
	seen := msg.ID != "" && msg.ID == s.lastSeenMessageID
	if !seen {
		s.lastSeenMessageID = msg.ID
	}
	s.mu.Unlock()
	if seen {
		return
	}

	slog.Debug("PollingSession new inbound message", "conversationID", s.conversationID, "messageID", msg.ID)
	if _, err := s.advancer.AdvanceConversation(ctx, conv, msg.Content); err != nil {
		slog.Error("PollingSession advance failed", "error", err, "conversationID", s.conversationID)
	}
}

// handleFetchError applies the session's continue/stop policy to a feed
// error: unauthorized stops, rate limiting skips with a counter, everything
// else is logged and retried on the next tick.
func (s *Session) handleFetchError(err error) {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		slog.Error("PollingSession unauthorized, stopping", "experienceID", s.experienceID, "conversationID", s.conversationID, "error", err)
		s.Stop()
	case errors.Is(err, models.ErrRateLimited):
		s.metrics.RecordUpstreamRateLimitHit(s.experienceID)
	case errors.Is(err, models.ErrServiceStopped):
		s.Stop()
	default:
		slog.Error("PollingSession feed fetch failed", "error", err, "conversationID", s.conversationID)
		s.metrics.RecordError(s.experienceID)
	}
}
