// Package store provides MovementStore implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/orchardgate/cellar-engine/cellar"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	movements   map[cellar.BatchID][]cellar.Movement
	idempotency map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		movements:   make(map[cellar.BatchID][]cellar.Movement),
		idempotency: make(map[string]bool),
	}
}

// Append adds a single movement. Append-only.
func (m *Memory) Append(_ context.Context, mv cellar.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(mv)
}

// AppendBatch adds multiple movements atomically.
func (m *Memory) AppendBatch(_ context.Context, mvs []cellar.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all idempotency keys first (atomic check)
	for _, mv := range mvs {
		if mv.IdempotencyKey != "" && m.idempotency[mv.IdempotencyKey] {
			return cellar.ErrDuplicateIdempotencyKey
		}
	}

	for _, mv := range mvs {
		if err := m.appendLocked(mv); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) appendLocked(mv cellar.Movement) error {
	if mv.IdempotencyKey != "" && m.idempotency[mv.IdempotencyKey] {
		return cellar.ErrDuplicateIdempotencyKey
	}

	ms := m.movements[mv.BatchID]

	// Binary search for insertion point keeps the slice ordered by At.
	i := sort.Search(len(ms), func(i int) bool {
		return ms[i].At.After(mv.At)
	})
	ms = append(ms, cellar.Movement{})
	copy(ms[i+1:], ms[i:])
	ms[i] = mv
	m.movements[mv.BatchID] = ms

	if mv.IdempotencyKey != "" {
		m.idempotency[mv.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) Load(_ context.Context, batchID cellar.BatchID) ([]cellar.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]cellar.Movement, len(m.movements[batchID]))
	copy(result, m.movements[batchID])
	return result, nil
}

func (m *Memory) LoadRange(_ context.Context, batchID cellar.BatchID, from, to time.Time) ([]cellar.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []cellar.Movement
	for _, mv := range m.movements[batchID] {
		if !mv.At.Before(from) && !mv.At.After(to) {
			result = append(result, mv)
		}
	}
	return result, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}
