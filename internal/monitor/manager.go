package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MichaelRobotics/Hustler-sub005/internal/funnel"
	"github.com/MichaelRobotics/Hustler-sub005/internal/messaging"
	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
	"github.com/MichaelRobotics/Hustler-sub005/internal/ratelimit"
	"github.com/MichaelRobotics/Hustler-sub005/internal/scheduler"
	"github.com/MichaelRobotics/Hustler-sub005/internal/store"
)

// ManagerConfig carries the collaborators a Manager needs. NewLimiter and
// NewService are factories so every tenant gets its own rate-limiter window
// and its own messaging client (tenants authenticate with their own keys).
type ManagerConfig struct {
	Store      store.Store
	Machine    *funnel.StateMachine
	Metrics    *MetricsCollector
	NewLimiter func() ratelimit.Limiter
	NewService func(experienceID string) (messaging.Service, error)
	Intervals  SessionIntervals
}

// tenantEntry is one tenant's isolated monitoring state.
type tenantEntry struct {
	limiter  ratelimit.Limiter
	svc      messaging.Service
	advancer *Advancer
	timer    *scheduler.SimpleTimer
	sessions map[string]*Session
}

// Manager owns one polling session set per tenant. Tenant entries are created
// lazily on the first StartMonitoring call and torn down by SweepIdleTenants
// once they hold no sessions.
type Manager struct {
	mu      sync.Mutex
	tenants map[string]*tenantEntry

	store      store.Store
	machine    *funnel.StateMachine
	metrics    *MetricsCollector
	newLimiter func() ratelimit.Limiter
	newService func(experienceID string) (messaging.Service, error)
	intervals  SessionIntervals
}

// NewManager creates a Manager from the given config.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("manager store not set")
	}
	if cfg.Machine == nil {
		return nil, fmt.Errorf("manager state machine not set")
	}
	if cfg.NewLimiter == nil {
		return nil, fmt.Errorf("manager limiter factory not set")
	}
	if cfg.NewService == nil {
		return nil, fmt.Errorf("manager service factory not set")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetricsCollector()
	}
	if cfg.Intervals == (SessionIntervals{}) {
		cfg.Intervals = DefaultSessionIntervals()
	}

	return &Manager{
		tenants:    make(map[string]*tenantEntry),
		store:      cfg.Store,
		machine:    cfg.Machine,
		metrics:    cfg.Metrics,
		newLimiter: cfg.NewLimiter,
		newService: cfg.NewService,
		intervals:  cfg.Intervals,
	}, nil
}

// Metrics exposes the collector for health reporting.
func (m *Manager) Metrics() *MetricsCollector {
	return m.metrics
}

// ensureTenantLocked returns the tenant's entry, creating it on first use.
// Caller holds m.mu.
func (m *Manager) ensureTenantLocked(experienceID string) (*tenantEntry, error) {
	if entry, ok := m.tenants[experienceID]; ok {
		return entry, nil
	}

	svc, err := m.newService(experienceID)
	if err != nil {
		slog.Error("Manager failed to create messaging service", "error", err, "experienceID", experienceID)
		return nil, fmt.Errorf("failed to create messaging service for tenant %s: %w", experienceID, err)
	}

	limiter := m.newLimiter()
	entry := &tenantEntry{
		limiter:  limiter,
		svc:      svc,
		timer:    scheduler.NewSimpleTimer(),
		sessions: make(map[string]*Session),
	}
	entry.advancer = NewAdvancer(m.store, m.machine, svc, limiter, m.metrics, m.StopMonitoring)
	m.tenants[experienceID] = entry

	slog.Info("Manager created tenant entry", "experienceID", experienceID)
	return entry, nil
}

// StartMonitoring creates and starts a polling session for the conversation.
// A prior session for the same conversation is stopped first, so no two
// sessions ever run for one conversation id.
func (m *Manager) StartMonitoring(ctx context.Context, experienceID, conversationID, userID string) error {
	if experienceID == "" {
		return models.ErrEmptyExperienceID
	}
	if conversationID == "" {
		return models.ErrEmptyConversationID
	}
	if userID == "" {
		return models.ErrEmptyUserID
	}

	m.mu.Lock()
	entry, err := m.ensureTenantLocked(experienceID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	prior := entry.sessions[conversationID]
	delete(entry.sessions, conversationID)
	m.mu.Unlock()

	if prior != nil {
		slog.Debug("Manager stopping prior session before restart", "experienceID", experienceID, "conversationID", conversationID)
		prior.Stop()
	}

	var sess *Session
	sess = NewSession(experienceID, conversationID, userID,
		m.store, entry.svc, entry.limiter, entry.advancer, m.metrics, entry.timer, m.intervals,
		func() { m.removeSession(experienceID, conversationID, sess) })

	m.mu.Lock()
	entry.sessions[conversationID] = sess
	count := len(entry.sessions)
	m.mu.Unlock()
	m.metrics.SetActiveSessions(experienceID, count)

	sess.Start(ctx)
	return nil
}

// StopMonitoring stops the conversation's polling session. Unknown tenants or
// conversations are a no-op; stopping twice is safe.
func (m *Manager) StopMonitoring(experienceID, conversationID string) {
	m.mu.Lock()
	var sess *Session
	if entry, ok := m.tenants[experienceID]; ok {
		sess = entry.sessions[conversationID]
	}
	m.mu.Unlock()

	if sess != nil {
		sess.Stop()
	}
}

// removeSession drops the session from the registry once it has stopped, and
// clears its ephemeral escalation state.
func (m *Manager) removeSession(experienceID, conversationID string, sess *Session) {
	m.mu.Lock()
	count := -1
	if entry, ok := m.tenants[experienceID]; ok {
		if entry.sessions[conversationID] == sess {
			delete(entry.sessions, conversationID)
		}
		count = len(entry.sessions)
	}
	m.mu.Unlock()

	if count >= 0 {
		m.metrics.SetActiveSessions(experienceID, count)
	}
	m.machine.Tracker().Clear(conversationID)
}

// AdvancerFor returns the tenant's side-effect executor, creating the tenant
// entry if needed. This is the entry point for the synchronous advance path
// (webhook or chat UI), which shares rate limits with polling.
func (m *Manager) AdvancerFor(experienceID string) (*Advancer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.ensureTenantLocked(experienceID)
	if err != nil {
		return nil, err
	}
	return entry.advancer, nil
}

// ActiveSessionCount returns the tenant's current session count.
func (m *Manager) ActiveSessionCount(experienceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.tenants[experienceID]; ok {
		return len(entry.sessions)
	}
	return 0
}

// IsMonitoring reports whether a session exists for the conversation.
func (m *Manager) IsMonitoring(experienceID, conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.tenants[experienceID]; ok {
		_, exists := entry.sessions[conversationID]
		return exists
	}
	return false
}

// TenantHealth returns the tenant's metrics snapshot.
func (m *Manager) TenantHealth(experienceID string) models.TenantHealth {
	health := m.metrics.Snapshot(experienceID)
	health.ActiveSessions = m.ActiveSessionCount(experienceID)
	return health
}

// SweepIdleTenants tears down every tenant with zero active sessions,
// releasing its rate-limiter state, timer, and messaging client. Best-effort
// housekeeping: an evicted tenant is recreated on its next StartMonitoring.
func (m *Manager) SweepIdleTenants() {
	m.mu.Lock()
	var evicted []string
	var entries []*tenantEntry
	for experienceID, entry := range m.tenants {
		if len(entry.sessions) == 0 {
			evicted = append(evicted, experienceID)
			entries = append(entries, entry)
			delete(m.tenants, experienceID)
		}
	}
	m.mu.Unlock()

	for i, experienceID := range evicted {
		entry := entries[i]
		entry.timer.Stop()
		if err := entry.svc.Stop(); err != nil {
			slog.Error("Manager failed to stop tenant messaging service", "error", err, "experienceID", experienceID)
		}
		m.metrics.Remove(experienceID)
		slog.Info("Manager evicted idle tenant", "experienceID", experienceID)
	}
}

// StopAll stops every session and tears down every tenant. Called on
// shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	var sessions []*Session
	for _, entry := range m.tenants {
		for _, sess := range entry.sessions {
			sessions = append(sessions, sess)
		}
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Stop()
	}
	m.SweepIdleTenants()
	slog.Info("Manager stopped all sessions", "count", len(sessions))
}
