package kv

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indica que o backend não pôde ser alcançado.
var ErrUnavailable = errors.New("kv: store unavailable")

// Counter é o contador compartilhado do rate limit.
//
// Incremento e expiração são UMA operação: a implementação deve garantir que os dois
// comandos são aplicados juntos e de forma linearizável por chave.
type Counter interface {
	IncrementAndExpireAt(ctx context.Context, key string, expireAt time.Time) (int64, error)
}

// Cache guarda valores já serializados com TTL.
// Get devolve (nil, false, nil) quando a chave não existe ou expirou.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Store junta as duas faces do mesmo backend.
type Store interface {
	Counter
	Cache
}
