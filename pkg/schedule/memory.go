package schedule

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory Store for tests.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*Entry // by ID
	conditions map[string]bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries:    make(map[string]*Entry),
		conditions: make(map[string]bool),
	}
}

func (m *Memory) CountByPersona(_ context.Context, persona string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Persona == persona {
			n++
		}
	}
	return n, nil
}

func (m *Memory) BulkInsert(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		e := e
		m.entries[e.ID] = &e
		if e.ConditionID != "" {
			if _, ok := m.conditions[e.ConditionID]; !ok {
				m.conditions[e.ConditionID] = false
			}
		}
	}
	return nil
}

func (m *Memory) PendingByPersona(_ context.Context, persona string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.Persona == persona && !e.Completed {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartAt.Before(out[j].StartAt)
	})
	return out, nil
}

func (m *Memory) MarkCompleted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Completed = true
	return nil
}

func (m *Memory) Condition(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conditions[id], nil
}

func (m *Memory) SetCondition(_ context.Context, id string, satisfied bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conditions[id] = satisfied
	return nil
}

func (m *Memory) Close() error { return nil }

// Ensure Memory implements Store.
var _ Store = (*Memory)(nil)
