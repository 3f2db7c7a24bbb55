package infra

import (
	"context"
	"maps"
	"sync"

	"forum-throttle/middleware/ratelimit/domain"
)

// MemoryStatsStore acumula decisões no processo, sem expiração.
type MemoryStatsStore struct {
	mu   sync.Mutex
	snap domain.StatsSnapshot

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

// WithTrackKeys também conta por cliente (scope).
func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		snap: domain.StatsSnapshot{
			ByEndpoint: make(map[string]domain.Counters),
			ByKey:      make(map[string]domain.Counters),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Total.Add(ev)
	bump(s.snap.ByEndpoint, ev.Endpoint, ev)
	if s.trackKeys {
		bump(s.snap.ByKey, ev.Key, ev)
	}
	return nil
}

func bump(m map[string]domain.Counters, k string, ev domain.StatsEvent) {
	c := m[k]
	c.Add(ev)
	m[k] = c
}

func (s *MemoryStatsStore) Snapshot(context.Context) (domain.StatsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.StatsSnapshot{
		Total:      s.snap.Total,
		ByEndpoint: maps.Clone(s.snap.ByEndpoint),
		ByKey:      maps.Clone(s.snap.ByKey),
	}, nil
}

func (s *MemoryStatsStore) Total() domain.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Total
}

func (s *MemoryStatsStore) ByEndpoint() map[string]domain.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.snap.ByEndpoint)
}

func (s *MemoryStatsStore) ByKey() map[string]domain.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.snap.ByKey)
}
