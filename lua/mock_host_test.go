package lua

import "sync"

// MockHost implements Host for testing.
type MockHost struct {
	mu sync.Mutex

	// Captured calls
	PrintCalls []string

	port int
}

func NewMockHost() *MockHost {
	return &MockHost{port: 3939}
}

func (m *MockHost) Print(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PrintCalls = append(m.PrintCalls, text)
}

func (m *MockHost) Port() int { return m.port }

// Helper methods for tests

func (m *MockHost) DrainPrintCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := m.PrintCalls
	m.PrintCalls = nil
	return calls
}
