package monitor

import (
	"log/slog"
	"time"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
	"github.com/MichaelRobotics/Hustler-sub005/internal/store"
)

// Reaper defaults.
const (
	DefaultReapInterval     = time.Hour
	DefaultTimeoutThreshold = 24 * time.Hour
)

// Reaper periodically abandons active conversations that have gone quiet for
// longer than the threshold. It exists independently of per-cycle liveness
// checks so conversations whose polling never started, or already stopped for
// unrelated reasons, cannot stay active forever.
type Reaper struct {
	store     store.Store
	manager   *Manager
	threshold time.Duration
	now       func() time.Time
}

// NewReaper creates a Reaper. A non-positive threshold falls back to the
// 24-hour default.
func NewReaper(st store.Store, manager *Manager, threshold time.Duration) *Reaper {
	if threshold <= 0 {
		threshold = DefaultTimeoutThreshold
	}
	return &Reaper{
		store:     st,
		manager:   manager,
		threshold: threshold,
		now:       time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (r *Reaper) SetNowFunc(now func() time.Time) {
	r.now = now
}

// Sweep abandons every active conversation whose updatedAt predates the
// threshold, stopping its polling session first. Returns the number of
// conversations reaped.
func (r *Reaper) Sweep() int {
	cutoff := r.now().Add(-r.threshold)
	convs, err := r.store.ListActiveConversationsOlderThan(cutoff)
	if err != nil {
		slog.Error("Reaper failed to list stale conversations", "error", err)
		return 0
	}
	if len(convs) == 0 {
		return 0
	}

	slog.Info("Reaper sweeping stale conversations", "count", len(convs), "cutoff", cutoff)
	reaped := 0
	for _, conv := range convs {
		r.manager.StopMonitoring(conv.ExperienceID, conv.ID)
		if err := r.store.UpdateConversationStatus(conv.ID, models.ConversationStatusAbandoned, models.AbandonReasonTimeout); err != nil {
			slog.Error("Reaper failed to abandon conversation", "error", err, "conversationID", conv.ID)
			continue
		}
		reaped++
		slog.Info("Reaper abandoned stale conversation", "conversationID", conv.ID, "experienceID", conv.ExperienceID, "updatedAt", conv.UpdatedAt)
	}
	return reaped
}
