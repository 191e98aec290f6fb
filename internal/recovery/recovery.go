// Package recovery restores monitoring state after an application restart.
// Polling sessions are in-memory only, so on boot every conversation that is
// still active in the store gets its session restarted.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
)

// Recoverable defines the interface for components that can recover their
// state on startup.
type Recoverable interface {
	RecoverState(ctx context.Context) error
}

// Manager orchestrates recovery of all registered components.
type Manager struct {
	recoverables []Recoverable
}

// NewManager creates an empty recovery manager.
func NewManager() *Manager {
	return &Manager{recoverables: make([]Recoverable, 0)}
}

// Register adds a component that can be recovered.
func (m *Manager) Register(r Recoverable) {
	m.recoverables = append(m.recoverables, r)
}

// RecoverAll performs recovery of all registered components. A failing
// component does not block the others.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting application recovery", "components", len(m.recoverables))

	recoveredCount := 0
	errorCount := 0

	for _, recoverable := range m.recoverables {
		if err := recoverable.RecoverState(ctx); err != nil {
			slog.Error("Component recovery failed", "error", err, "component", fmt.Sprintf("%T", recoverable))
			errorCount++
			continue
		}
		recoveredCount++
	}

	slog.Info("Application recovery completed", "recovered", recoveredCount, "errors", errorCount)

	if errorCount > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", errorCount, len(m.recoverables))
	}
	return nil
}
