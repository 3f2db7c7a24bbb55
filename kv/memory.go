package kv

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore é uma implementação em memória de Store, com expiração preguiçosa
// (checada no acesso) e limpeza periódica opcional.
//
// Serve para testes e para rodar um único processo; não coordena réplicas.
type MemoryStore struct {
	mu           sync.Mutex
	entries      map[string]*memEntry
	prefix       string
	now          func() time.Time
	cleanupEvery time.Duration
}

type memEntry struct {
	value    []byte
	expireAt time.Time // zero = sem expiração
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

type MemoryOption func(*MemoryStore)

func WithMemoryPrefix(prefix string) MemoryOption {
	return func(s *MemoryStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithClock troca o relógio (testes).
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func WithCleanupEvery(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:      make(map[string]*memEntry),
		now:          time.Now,
		cleanupEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// lookup devolve a entrada viva, removendo-a se já expirou. Chamar com mu travado.
func (s *MemoryStore) lookup(k string, now time.Time) (*memEntry, bool) {
	ent, ok := s.entries[k]
	if !ok {
		return nil, false
	}
	if ent.expired(now) {
		delete(s.entries, k)
		return nil, false
	}
	return ent, true
}

func (s *MemoryStore) IncrementAndExpireAt(_ context.Context, key string, expireAt time.Time) (int64, error) {
	k := s.key(key)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if ent, ok := s.lookup(k, now); ok {
		cur, err := strconv.ParseInt(string(ent.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("kv memory incr %q: value is not an integer", key)
		}
		n = cur
	}
	n++

	ent := &memEntry{value: []byte(strconv.FormatInt(n, 10)), expireAt: expireAt}
	if ent.expired(now) {
		// EXPIREAT no passado apaga a chave, como no Redis.
		delete(s.entries, k)
		return n, nil
	}
	s.entries[k] = ent
	return n, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.lookup(s.key(key), now)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(ent.value))
	copy(out, ent.value)
	return out, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	ent := &memEntry{value: make([]byte, len(value))}
	copy(ent.value, value)
	if ttl > 0 {
		ent.expireAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[s.key(key)] = ent
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, s.key(key))
	return nil
}

// Len conta as entradas ainda não removidas (inclui expiradas que ninguém tocou).
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup remove todas as entradas expiradas.
func (s *MemoryStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.expired(now) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que chama Cleanup periodicamente.
// Pare cancelando o contexto; o canal devolvido fecha quando a goroutine termina.
func (s *MemoryStore) StartJanitor(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if s.cleanupEvery <= 0 {
		close(done)
		return done
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer close(done)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
	return done
}
