package journal

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store for tests and single-node development. It
// honors the same sticky-terminal contract as the Postgres repository.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]Entry{}}
}

func (m *Memory) Get(_ context.Context, deliveryID string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[deliveryID]
	return e, ok, nil
}

func (m *Memory) MarkPending(_ context.Context, e Entry) error {
	return m.set(e, StatePending)
}

func (m *Memory) MarkDelivered(_ context.Context, e Entry) error {
	return m.set(e, StateDelivered)
}

func (m *Memory) MarkFailed(_ context.Context, e Entry) error {
	return m.set(e, StateFailed)
}

func (m *Memory) set(e Entry, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.entries[e.DeliveryID]; ok && prev.State.Terminal() {
		return nil
	}
	e.State = state
	e.LastAttemptAt = time.Now().UTC()
	m.entries[e.DeliveryID] = e
	return nil
}

func (m *Memory) List(_ context.Context, state State, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.entries {
		if state != "" && e.State != state {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
