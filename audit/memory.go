package audit

import (
	"context"
	"sync"
)

// Memory keeps the most recent events in a bounded buffer.
type Memory struct {
	mu     sync.Mutex
	max    int
	events []Event
}

var _ Sink = (*Memory)(nil)

// NewMemory keeps at most max events; max <= 0 means 1000.
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = 1000
	}
	return &Memory{max: max}
}

func (m *Memory) Write(_ context.Context, evt Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == m.max {
		copy(m.events, m.events[1:])
		m.events = m.events[:len(m.events)-1]
	}
	m.events = append(m.events, evt)
}

// Events returns the retained events, newest first.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	for i, e := range m.events {
		out[len(m.events)-1-i] = e
	}
	return out
}

// Count returns how many retained events have kind.
func (m *Memory) Count(kind Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
