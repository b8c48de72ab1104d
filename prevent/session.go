package prevent

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// SessionManager is the external session/account management collaborator.
// Its failures are reported per-action and never abort the rest of a batch.
type SessionManager interface {
	Quarantine(ctx context.Context, target string) error
	RequireSecondFactor(ctx context.Context, target string) error
	TerminateSession(ctx context.Context, target string) error
}

// LoggingSessionManager is the default collaborator used when no real session
// management backend is wired: it records each directive in the log.
type LoggingSessionManager struct {
	logger *zap.SugaredLogger
}

// NewLoggingSessionManager creates a logging session manager.
func NewLoggingSessionManager(logger *zap.SugaredLogger) *LoggingSessionManager {
	return &LoggingSessionManager{logger: logger}
}

// Quarantine implements SessionManager.
func (m *LoggingSessionManager) Quarantine(ctx context.Context, target string) error {
	m.logger.Infow("Session directive", "directive", "quarantine", "target", target)
	return nil
}

// RequireSecondFactor implements SessionManager.
func (m *LoggingSessionManager) RequireSecondFactor(ctx context.Context, target string) error {
	m.logger.Infow("Session directive", "directive", "require_second_factor", "target", target)
	return nil
}

// TerminateSession implements SessionManager.
func (m *LoggingSessionManager) TerminateSession(ctx context.Context, target string) error {
	m.logger.Infow("Session directive", "directive", "terminate_session", "target", target)
	return nil
}

// MockSessionManager records directives for tests and can be primed to fail.
type MockSessionManager struct {
	mu          sync.Mutex
	Quarantined []string
	SecondGated []string
	Terminated  []string
	Err         error
}

// Quarantine implements SessionManager.
func (m *MockSessionManager) Quarantine(ctx context.Context, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Quarantined = append(m.Quarantined, target)
	return nil
}

// RequireSecondFactor implements SessionManager.
func (m *MockSessionManager) RequireSecondFactor(ctx context.Context, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.SecondGated = append(m.SecondGated, target)
	return nil
}

// TerminateSession implements SessionManager.
func (m *MockSessionManager) TerminateSession(ctx context.Context, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Terminated = append(m.Terminated, target)
	return nil
}

// SetError primes every subsequent directive to fail with err.
func (m *MockSessionManager) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}
