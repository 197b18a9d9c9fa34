package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/evdnx/gofloor/audit"
	"github.com/evdnx/gofloor/types"
)

// MockPositions is an in-memory position provider. Tests seed it with Open
// and Close; strategies read it through OpenPositions.
type MockPositions struct {
	mu        sync.RWMutex
	positions []types.Position
	Err       error
}

func NewMockPositions(positions ...types.Position) *MockPositions {
	return &MockPositions{positions: append([]types.Position(nil), positions...)}
}

// Open adds or replaces a position.
func (m *MockPositions) Open(p types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.positions {
		if m.positions[i].ID == p.ID {
			m.positions[i] = p
			return
		}
	}
	m.positions = append(m.positions, p)
}

// Close removes the position with id.
func (m *MockPositions) Close(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.positions {
		if m.positions[i].ID == id {
			m.positions = append(m.positions[:i], m.positions[i+1:]...)
			return
		}
	}
}

func (m *MockPositions) OpenPositions(_ context.Context, account, strategyID, instrument string) ([]types.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []types.Position
	for _, p := range m.positions {
		if p.Account != account || p.Strategy != strategyID {
			continue
		}
		if instrument != "" && p.Instrument != instrument {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ErrNoSnapshot is returned by MockAccount before Set was called for an
// account.
var ErrNoSnapshot = errors.New("no account snapshot")

// MockAccount returns whatever snapshot the test set last.
type MockAccount struct {
	mu        sync.RWMutex
	snapshots map[string]types.AccountSnapshot
	calls     int
}

func NewMockAccount() *MockAccount {
	return &MockAccount{snapshots: make(map[string]types.AccountSnapshot)}
}

func (m *MockAccount) Set(account string, marginUsed, unrealizedPnL float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[account] = types.AccountSnapshot{MarginUsed: marginUsed, UnrealizedPnL: unrealizedPnL}
}

func (m *MockAccount) Snapshot(_ context.Context, account string) (types.AccountSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	s, ok := m.snapshots[account]
	if !ok {
		return types.AccountSnapshot{}, ErrNoSnapshot
	}
	return s, nil
}

// Calls returns how many snapshots were requested.
func (m *MockAccount) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// MemorySink records audit events for assertions.
type MemorySink struct {
	mu     sync.Mutex
	events []audit.Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) LogEvent(e audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events returns a copy of everything recorded.
func (s *MemorySink) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

// Count returns how many events of eventType were recorded.
func (s *MemorySink) Count(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}
