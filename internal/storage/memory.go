package storage

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is a process-local Store.
type Memory struct {
	mu      sync.Mutex
	kv      map[string]memEntry
	runs    []RunRecord
	runsMax int
	now     func() time.Time
}

func NewMemory(runsMax int) *Memory {
	if runsMax <= 0 {
		runsMax = DefaultRunsMax
	}
	return &Memory{kv: map[string]memEntry{}, runsMax: runsMax, now: time.Now}
}

func (m *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kv == nil {
		return ErrDisabled
	}
	m.kv[key] = memEntry{value: append([]byte(nil), value...), expiresAt: expiry(m.now(), ttl)}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kv == nil {
		return nil, false, ErrDisabled
	}
	e, ok := m.kv[key]
	if !ok {
		return nil, false, nil
	}
	if expired(m.now(), e.expiresAt) {
		delete(m.kv, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (m *Memory) AppendRun(_ context.Context, r RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kv == nil {
		return ErrDisabled
	}
	m.runs = append(m.runs, r)
	if len(m.runs) > m.runsMax {
		m.runs = append(m.runs[:0:0], m.runs[len(m.runs)-m.runsMax:]...)
	}
	return nil
}

func (m *Memory) Runs(_ context.Context, limit int) ([]RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kv == nil {
		return nil, ErrDisabled
	}
	return tail(m.runs, limit), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.kv = nil
	m.mu.Unlock()
	return nil
}
