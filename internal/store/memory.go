package store

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local store. It is the default backend and the test double.
type Memory struct {
	mu     sync.RWMutex
	blocks map[string]BlockRecord
	logs   []AccessRecord
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{blocks: make(map[string]BlockRecord)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) IsBlocked(ctx context.Context, fingerprint string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocks[fingerprint]
	return ok, nil
}

func (m *Memory) Block(ctx context.Context, rec BlockRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stampBlock(&rec)
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.blocks[rec.Fingerprint]; ok {
		prev.IsPermanent = prev.IsPermanent || rec.IsPermanent
		prev.LastAttempt = rec.LastAttempt
		m.blocks[rec.Fingerprint] = prev
		return nil
	}
	m.blocks[rec.Fingerprint] = rec
	return nil
}

func (m *Memory) LogAccess(ctx context.Context, rec AccessRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.AccessedAt.IsZero() {
		rec.AccessedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, rec)
	return nil
}

func (m *Memory) SuspiciousCount(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.logs {
		if r.Fingerprint == fingerprint && r.IsSuspicious && !r.AccessedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// Blocked returns the block record for fingerprint, if any.
func (m *Memory) Blocked(fingerprint string) (BlockRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.blocks[fingerprint]
	return rec, ok
}

// Accesses returns a copy of the access log for fingerprint in insertion order.
func (m *Memory) Accesses(fingerprint string) []AccessRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AccessRecord
	for _, r := range m.logs {
		if r.Fingerprint == fingerprint {
			out = append(out, r)
		}
	}
	return out
}

func (m *Memory) Close() error { return nil }
