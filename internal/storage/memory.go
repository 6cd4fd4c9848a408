package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is an in-memory Storage implementation, useful for tests and
// simple single-process deployments.
type MemoryStorage struct {
	mu       sync.RWMutex
	snaps    map[string][]RatesSnapshot
	settings map[string]string
	jobs     map[string]ScheduledJob
	tokens   map[string]APIToken
}

// NewMemory returns an empty MemoryStorage.
func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		snaps:    make(map[string][]RatesSnapshot),
		settings: make(map[string]string),
		jobs:     make(map[string]ScheduledJob),
		tokens:   make(map[string]APIToken),
	}
}

func (m *MemoryStorage) Close() error { return nil }

func (m *MemoryStorage) Ping(ctx context.Context) error { return nil }

func (m *MemoryStorage) GetRatesSnapshot(ctx context.Context, source string) (*RatesSnapshot, error) {
	list, err := m.ListRatesSnapshots(ctx, source, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (m *MemoryStorage) SaveRatesSnapshot(ctx context.Context, snap RatesSnapshot) error {
	prepareSnapshot(&snap)
	snap.Payload = append([]byte(nil), snap.Payload...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.Source] = append(m.snaps[snap.Source], snap)
	return nil
}

func (m *MemoryStorage) ListRatesSnapshots(ctx context.Context, source string, limit int) ([]RatesSnapshot, error) {
	m.mu.RLock()
	list := append([]RatesSnapshot(nil), m.snaps[source]...)
	m.mu.RUnlock()

	// Stored in insertion order; reverse first so equal timestamps keep
	// newest-inserted first after the stable sort.
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].FetchedAt.After(list[j].FetchedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *MemoryStorage) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings[key], nil
}

func (m *MemoryStorage) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *MemoryStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[name] = newScheduledJob(name, started, dur, success, errMsg)
	return nil
}

func (m *MemoryStorage) GetScheduledJob(ctx context.Context, name string) (*ScheduledJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[name]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (m *MemoryStorage) CreateAPIToken(ctx context.Context, tok APIToken) error {
	prepareToken(&tok)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == tok.TokenHash {
			return fmt.Errorf("api token hash already exists")
		}
	}
	m.tokens[tok.ID] = tok
	return nil
}

func (m *MemoryStorage) GetAPITokenByHash(ctx context.Context, hash string) (*APIToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash {
			return &t, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) ListAPITokens(ctx context.Context) ([]APIToken, error) {
	m.mu.RLock()
	out := make([]APIToken, 0, len(m.tokens))
	for _, t := range m.tokens {
		out = append(out, t)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStorage) DeleteAPIToken(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, id)
	return nil
}

func (m *MemoryStorage) TouchAPIToken(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[id]; ok {
		at = at.UTC()
		t.LastUsedAt = &at
		m.tokens[id] = t
	}
	return nil
}
