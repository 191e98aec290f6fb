package monitor

import (
	"testing"
	"time"
)

func TestMetricsUnknownTenantIsHealthy(t *testing.T) {
	m := NewMetricsCollector()
	health := m.Snapshot("exp-1")
	if health.HealthScore != 100 {
		t.Errorf("HealthScore = %d, want 100", health.HealthScore)
	}
	if health.Requests != 0 || health.Errors != 0 {
		t.Errorf("counters should be zero: %+v", health)
	}
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetricsCollector()
	m.RecordRequest("exp-1", 100*time.Millisecond)
	m.RecordRequest("exp-1", 300*time.Millisecond)
	m.RecordError("exp-1")
	m.RecordRateLimitHit("exp-1")
	m.RecordUpstreamRateLimitHit("exp-1")
	m.SetActiveSessions("exp-1", 3)

	health := m.Snapshot("exp-1")
	if health.Requests != 2 {
		t.Errorf("Requests = %d, want 2", health.Requests)
	}
	if health.Errors != 1 {
		t.Errorf("Errors = %d, want 1", health.Errors)
	}
	if health.RateLimitHits != 1 || health.UpstreamRateLimitHits != 1 {
		t.Errorf("rate limit counters = %d/%d", health.RateLimitHits, health.UpstreamRateLimitHits)
	}
	if health.AvgResponseTimeMs != 200 {
		t.Errorf("AvgResponseTimeMs = %d, want 200", health.AvgResponseTimeMs)
	}
	if health.ActiveSessions != 3 {
		t.Errorf("ActiveSessions = %d, want 3", health.ActiveSessions)
	}
}

func TestMetricsHealthScoreDegrades(t *testing.T) {
	m := NewMetricsCollector()
	for i := 0; i < 10; i++ {
		m.RecordRequest("exp-1", 50*time.Millisecond)
	}
	clean := m.Snapshot("exp-1").HealthScore

	for i := 0; i < 5; i++ {
		m.RecordError("exp-1")
	}
	degraded := m.Snapshot("exp-1").HealthScore
	if degraded >= clean {
		t.Errorf("errors must lower the score: clean=%d degraded=%d", clean, degraded)
	}

	for i := 0; i < 20; i++ {
		m.RecordRateLimitHit("exp-1")
	}
	throttled := m.Snapshot("exp-1").HealthScore
	if throttled >= degraded {
		t.Errorf("rate limiting must lower the score further: %d -> %d", degraded, throttled)
	}
	if throttled < 0 || throttled > 100 {
		t.Errorf("score out of range: %d", throttled)
	}
}

func TestMetricsTenantIsolationAndRemove(t *testing.T) {
	m := NewMetricsCollector()
	m.RecordError("exp-a")
	if m.Snapshot("exp-b").Errors != 0 {
		t.Error("counters leaked across tenants")
	}

	m.Remove("exp-a")
	if m.Snapshot("exp-a").Errors != 0 {
		t.Error("counters should reset after Remove")
	}
}
