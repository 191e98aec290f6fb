// Package monitor implements the tenant-isolated DM polling engine: per
// conversation polling sessions, the per-tenant monitoring manager, the
// timeout reaper, and tenant metrics.
package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
)

// tenantCounters holds raw per-tenant counters. The collector owns the mutex.
type tenantCounters struct {
	requests              int64
	errors                int64
	rateLimitHits         int64
	upstreamRateLimitHits int64
	totalResponseTime     time.Duration
	activeSessions        int
}

// MetricsCollector records per-tenant counters and computes a health score.
// The score is informational; the manager consults it for visibility, not for
// correctness decisions.
type MetricsCollector struct {
	mu      sync.Mutex
	tenants map[string]*tenantCounters
}

// NewMetricsCollector creates an empty MetricsCollector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{tenants: make(map[string]*tenantCounters)}
}

func (m *MetricsCollector) counters(tenantID string) *tenantCounters {
	c, ok := m.tenants[tenantID]
	if !ok {
		c = &tenantCounters{}
		m.tenants[tenantID] = c
	}
	return c
}

// RecordRequest records one upstream request and its duration.
func (m *MetricsCollector) RecordRequest(tenantID string, took time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters(tenantID)
	c.requests++
	c.totalResponseTime += took
}

// RecordError records one failed operation.
func (m *MetricsCollector) RecordError(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters(tenantID).errors++
}

// RecordRateLimitHit records one local admission denial.
func (m *MetricsCollector) RecordRateLimitHit(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters(tenantID).rateLimitHits++
}

// RecordUpstreamRateLimitHit records one 429 reported by the provider.
func (m *MetricsCollector) RecordUpstreamRateLimitHit(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters(tenantID).upstreamRateLimitHits++
}

// SetActiveSessions records the tenant's current polling session count.
func (m *MetricsCollector) SetActiveSessions(tenantID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters(tenantID).activeSessions = n
}

// Remove drops all counters for a tenant. Called on tenant teardown.
func (m *MetricsCollector) Remove(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenants, tenantID)
	slog.Debug("MetricsCollector removed tenant", "experienceID", tenantID)
}

// Snapshot returns the tenant's current health. Unknown tenants report zero
// counters and a perfect score.
func (m *MetricsCollector) Snapshot(tenantID string) models.TenantHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.tenants[tenantID]
	if !ok {
		return models.TenantHealth{ExperienceID: tenantID, HealthScore: 100}
	}

	var avgMs int64
	if c.requests > 0 {
		avgMs = c.totalResponseTime.Milliseconds() / c.requests
	}

	return models.TenantHealth{
		ExperienceID:          tenantID,
		Requests:              c.requests,
		Errors:                c.errors,
		RateLimitHits:         c.rateLimitHits,
		UpstreamRateLimitHits: c.upstreamRateLimitHits,
		AvgResponseTimeMs:     avgMs,
		ActiveSessions:        c.activeSessions,
		HealthScore:           healthScore(c, avgMs),
	}
}

// healthScore maps counters onto a 0-100 score: error ratio costs up to 50
// points, rate limiting up to 30, slow responses up to 20.
func healthScore(c *tenantCounters, avgMs int64) int {
	score := 100.0
	if c.requests > 0 {
		errorRatio := float64(c.errors) / float64(c.requests)
		if errorRatio > 1 {
			errorRatio = 1
		}
		score -= errorRatio * 50

		limited := c.rateLimitHits + c.upstreamRateLimitHits
		limitRatio := float64(limited) / float64(c.requests+limited)
		score -= limitRatio * 30
	}
	if avgMs > 1000 {
		slowdown := float64(avgMs-1000) / 4000
		if slowdown > 1 {
			slowdown = 1
		}
		score -= slowdown * 20
	}
	if score < 0 {
		score = 0
	}
	return int(score)
}
