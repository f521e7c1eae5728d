package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"options_bot/internal/models"
)

type Memory struct {
	mu   sync.RWMutex
	ops  []models.Operation
	seen map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

func (m *Memory) Save(_ context.Context, op models.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[op.ID]; ok {
		return nil
	}
	m.seen[op.ID] = struct{}{}
	m.ops = append(m.ops, op)
	return nil
}

func (m *Memory) List(_ context.Context, since time.Time) ([]models.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Operation, 0, len(m.ops))
	for _, op := range m.ops {
		if opTime(op).Before(since) {
			continue
		}
		out = append(out, op)
	}
	sort.SliceStable(out, func(i, j int) bool { return opTime(out[i]).Before(opTime(out[j])) })
	return out, nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = nil
	m.seen = make(map[string]struct{})
	return nil
}

func opTime(op models.Operation) time.Time {
	if !op.SettledAt.IsZero() {
		return op.SettledAt
	}
	return op.PlacedAt
}
