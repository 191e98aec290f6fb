// Package ratelimit provides per-tenant sliding-window admission control for
// DM polling and message sending.
//
// Denial is not an error: callers skip the operation for the current cycle
// and rely on the next scheduled tick, never spin-retrying synchronously.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// OperationKind identifies a rate-limited operation class.
type OperationKind string

const (
	// OpDMPolling covers reads of the external DM feed.
	OpDMPolling OperationKind = "dm_polling"
	// OpMessageSending covers outbound message sends.
	OpMessageSending OperationKind = "message_sending"
)

// Policy is a sliding-window admission policy.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Default policies, chosen to stay under the provider's 20-requests/10s
// ceiling with headroom for other tenant traffic.
var DefaultPolicies = map[OperationKind]Policy{
	OpDMPolling:      {Limit: 15, Window: 10 * time.Second},
	OpMessageSending: {Limit: 10, Window: 10 * time.Second},
}

// Limiter admits or denies operations for a tenant. Admit is atomic
// check-and-record: an admitted call has already consumed its slot.
type Limiter interface {
	Admit(ctx context.Context, tenantID string, op OperationKind) (bool, error)
}

// SlidingWindow is an in-memory Limiter keeping one timestamp window per
// (tenant, operation). Windows are pruned lazily on each check. Safe for
// concurrent use.
type SlidingWindow struct {
	mu       sync.Mutex
	windows  map[string][]time.Time
	policies map[OperationKind]Policy
	now      func() time.Time
}

// NewSlidingWindow creates a SlidingWindow limiter with the given policies.
// Nil policies fall back to DefaultPolicies.
func NewSlidingWindow(policies map[OperationKind]Policy) *SlidingWindow {
	if policies == nil {
		policies = DefaultPolicies
	}
	return &SlidingWindow{
		windows:  make(map[string][]time.Time),
		policies: policies,
		now:      time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (l *SlidingWindow) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Admit prunes the window for (tenantID, op), and if the remaining count is
// under the policy limit, records the request and admits it.
func (l *SlidingWindow) Admit(_ context.Context, tenantID string, op OperationKind) (bool, error) {
	policy, ok := l.policies[op]
	if !ok {
		// Unknown operations are unconstrained.
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-policy.Window)
	key := tenantID + ":" + string(op)

	window := l.windows[key]
	pruned := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= policy.Limit {
		l.windows[key] = pruned
		slog.Debug("SlidingWindow denied request", "tenantID", tenantID, "op", op, "in_window", len(pruned), "limit", policy.Limit)
		return false, nil
	}

	l.windows[key] = append(pruned, now)
	return true, nil
}

// Reset drops all windows for a tenant. Called when a tenant entry is torn
// down by the monitoring manager.
func (l *SlidingWindow) Reset(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for op := range l.policies {
		delete(l.windows, tenantID+":"+string(op))
	}
}
