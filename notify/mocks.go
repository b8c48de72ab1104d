package notify

import (
	"sync"

	"warden/core"
)

// MockSink captures emitted detections and actions for tests.
type MockSink struct {
	mu         sync.Mutex
	detections []*core.Detection
	actions    []core.Action
	closed     bool
}

// NewMockSink creates a mock sink.
func NewMockSink() *MockSink {
	return &MockSink{}
}

// EmitDetection implements Sink.
func (m *MockSink) EmitDetection(d *core.Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections = append(m.detections, d.Clone())
}

// EmitAction implements Sink.
func (m *MockSink) EmitAction(d *core.Detection, a core.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, a)
}

// Close implements Sink.
func (m *MockSink) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// Detections returns the captured detections.
func (m *MockSink) Detections() []*core.Detection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*core.Detection(nil), m.detections...)
}

// Actions returns the captured actions.
func (m *MockSink) Actions() []core.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Action(nil), m.actions...)
}

// Closed reports whether Close was called.
func (m *MockSink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
