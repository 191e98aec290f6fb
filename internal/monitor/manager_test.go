package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/MichaelRobotics/Hustler-sub005/internal/messaging"
	"github.com/MichaelRobotics/Hustler-sub005/internal/ratelimit"
)

// newTestManager returns a manager whose tenants all share the harness's mock
// feed, plus a counter of limiter instances created.
func newTestManager(t *testing.T, h *harness) (*Manager, *int) {
	t.Helper()
	limitersCreated := 0
	mgr, err := NewManager(ManagerConfig{
		Store:   h.store,
		Machine: h.machine,
		Metrics: h.metrics,
		NewLimiter: func() ratelimit.Limiter {
			limitersCreated++
			return ratelimit.NewSlidingWindow(nil)
		},
		NewService: func(experienceID string) (messaging.Service, error) {
			return messaging.NewWhopService(h.whop, testAgentID), nil
		},
		// Long intervals keep background cycles out of the way; tests drive
		// state through the registry, not through timers.
		Intervals: SessionIntervals{Initial: time.Hour, Regular: time.Hour, InitialWindow: time.Hour},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(mgr.StopAll)
	return mgr, &limitersCreated
}

func TestManagerLazyTenantCreation(t *testing.T) {
	h := newHarness(t)
	mgr, limiters := newTestManager(t, h)
	h.createConversation(t, "conv-1", "welcome_1")

	if *limiters != 0 {
		t.Fatal("no limiter should exist before the first start")
	}
	if err := mgr.StartMonitoring(context.Background(), testExperienceID, "conv-1", testUserID); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}
	if *limiters != 1 {
		t.Errorf("limiters created = %d, want 1", *limiters)
	}
	if !mgr.IsMonitoring(testExperienceID, "conv-1") {
		t.Error("conversation should be monitored")
	}
	if mgr.ActiveSessionCount(testExperienceID) != 1 {
		t.Errorf("session count = %d, want 1", mgr.ActiveSessionCount(testExperienceID))
	}
}

func TestManagerValidatesArguments(t *testing.T) {
	h := newHarness(t)
	mgr, _ := newTestManager(t, h)

	if err := mgr.StartMonitoring(context.Background(), "", "conv-1", testUserID); err == nil {
		t.Error("expected error for empty experience id")
	}
	if err := mgr.StartMonitoring(context.Background(), testExperienceID, "", testUserID); err == nil {
		t.Error("expected error for empty conversation id")
	}
	if err := mgr.StartMonitoring(context.Background(), testExperienceID, "conv-1", ""); err == nil {
		t.Error("expected error for empty user id")
	}
}

func TestManagerTenantIsolation(t *testing.T) {
	h := newHarness(t)
	mgr, limiters := newTestManager(t, h)
	h.createConversationIn(t, "exp-a", "conv-1", "welcome_1")
	h.createConversationIn(t, "exp-b", "conv-2", "welcome_1")

	if err := mgr.StartMonitoring(context.Background(), "exp-a", "conv-1", testUserID); err != nil {
		t.Fatalf("StartMonitoring exp-a: %v", err)
	}
	if err := mgr.StartMonitoring(context.Background(), "exp-b", "conv-2", testUserID); err != nil {
		t.Fatalf("StartMonitoring exp-b: %v", err)
	}
	// Each tenant gets its own rate-limiter instance.
	if *limiters != 2 {
		t.Errorf("limiters created = %d, want 2", *limiters)
	}
	if mgr.ActiveSessionCount("exp-a") != 1 || mgr.ActiveSessionCount("exp-b") != 1 {
		t.Error("sessions must be counted per tenant")
	}
}

func TestManagerRestartStopsPriorSession(t *testing.T) {
	h := newHarness(t)
	mgr, _ := newTestManager(t, h)
	h.createConversation(t, "conv-1", "welcome_1")

	if err := mgr.StartMonitoring(context.Background(), testExperienceID, "conv-1", testUserID); err != nil {
		t.Fatalf("first StartMonitoring: %v", err)
	}
	if err := mgr.StartMonitoring(context.Background(), testExperienceID, "conv-1", testUserID); err != nil {
		t.Fatalf("second StartMonitoring: %v", err)
	}
	// Only one session remains for the conversation id.
	if mgr.ActiveSessionCount(testExperienceID) != 1 {
		t.Errorf("session count = %d, want 1", mgr.ActiveSessionCount(testExperienceID))
	}
}

func TestManagerStopMonitoringIdempotent(t *testing.T) {
	h := newHarness(t)
	mgr, _ := newTestManager(t, h)
	h.createConversation(t, "conv-1", "welcome_1")

	if err := mgr.StartMonitoring(context.Background(), testExperienceID, "conv-1", testUserID); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}
	mgr.StopMonitoring(testExperienceID, "conv-1")
	mgr.StopMonitoring(testExperienceID, "conv-1")
	mgr.StopMonitoring("unknown-tenant", "conv-1")

	if mgr.IsMonitoring(testExperienceID, "conv-1") {
		t.Error("conversation should no longer be monitored")
	}
	if mgr.ActiveSessionCount(testExperienceID) != 0 {
		t.Errorf("session count = %d, want 0", mgr.ActiveSessionCount(testExperienceID))
	}
}

func TestManagerSweepEvictsIdleTenantsOnly(t *testing.T) {
	h := newHarness(t)
	mgr, limiters := newTestManager(t, h)
	h.createConversationIn(t, "exp-idle", "conv-idle", "welcome_1")
	h.createConversationIn(t, "exp-busy", "conv-busy", "welcome_1")

	if err := mgr.StartMonitoring(context.Background(), "exp-idle", "conv-idle", testUserID); err != nil {
		t.Fatalf("StartMonitoring exp-idle: %v", err)
	}
	if err := mgr.StartMonitoring(context.Background(), "exp-busy", "conv-busy", testUserID); err != nil {
		t.Fatalf("StartMonitoring exp-busy: %v", err)
	}
	mgr.StopMonitoring("exp-idle", "conv-idle")

	mgr.SweepIdleTenants()

	// The busy tenant survived; the idle one is gone and gets a fresh limiter
	// on its next start.
	if mgr.ActiveSessionCount("exp-busy") != 1 {
		t.Error("busy tenant must survive the sweep")
	}
	before := *limiters
	if err := mgr.StartMonitoring(context.Background(), "exp-idle", "conv-idle", testUserID); err != nil {
		t.Fatalf("restart after sweep: %v", err)
	}
	if *limiters != before+1 {
		t.Error("evicted tenant should be recreated with a new limiter")
	}
}

func TestManagerTenantHealth(t *testing.T) {
	h := newHarness(t)
	mgr, _ := newTestManager(t, h)
	h.createConversation(t, "conv-1", "welcome_1")

	if err := mgr.StartMonitoring(context.Background(), testExperienceID, "conv-1", testUserID); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}
	health := mgr.TenantHealth(testExperienceID)
	if health.ExperienceID != testExperienceID {
		t.Errorf("ExperienceID = %q", health.ExperienceID)
	}
	if health.ActiveSessions != 1 {
		t.Errorf("ActiveSessions = %d, want 1", health.ActiveSessions)
	}
	if health.HealthScore < 0 || health.HealthScore > 100 {
		t.Errorf("HealthScore = %d, out of range", health.HealthScore)
	}
}

func TestManagerAdvancerForSharedWithSyncPath(t *testing.T) {
	h := newHarness(t)
	mgr, limiters := newTestManager(t, h)
	conv := h.createConversation(t, "conv-1", "welcome_1")

	adv, err := mgr.AdvancerFor(testExperienceID)
	if err != nil {
		t.Fatalf("AdvancerFor: %v", err)
	}
	outcome, err := adv.AdvanceConversation(context.Background(), conv, "trading")
	if err != nil {
		t.Fatalf("AdvanceConversation: %v", err)
	}
	if outcome.NextBlockID != "value_1" {
		t.Fatalf("outcome = %+v", outcome)
	}

	// The sync path reuses the tenant entry created above.
	if err := mgr.StartMonitoring(context.Background(), testExperienceID, "conv-1", testUserID); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}
	if *limiters != 1 {
		t.Errorf("limiters created = %d, want 1 shared", *limiters)
	}
}

func TestManagerServiceFactoryFailure(t *testing.T) {
	h := newHarness(t)
	mgr, err := NewManager(ManagerConfig{
		Store:      h.store,
		Machine:    h.machine,
		Metrics:    h.metrics,
		NewLimiter: func() ratelimit.Limiter { return ratelimit.NewSlidingWindow(nil) },
		NewService: func(experienceID string) (messaging.Service, error) {
			return nil, fmt.Errorf("no API key for %s", experienceID)
		},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr.StartMonitoring(context.Background(), testExperienceID, "conv-1", testUserID); err == nil {
		t.Error("expected error when service factory fails")
	}
	if mgr.IsMonitoring(testExperienceID, "conv-1") {
		t.Error("no session should exist after factory failure")
	}
}
