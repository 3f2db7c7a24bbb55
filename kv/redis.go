package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisOption func(*RedisStore)

func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// IncrementAndExpireAt implementa Counter com INCR + EXPIREAT dentro de MULTI/EXEC.
func (s *RedisStore) IncrementAndExpireAt(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	k := s.key(key)

	var incr *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireAt(ctx, k, expireAt)
		return nil
	})
	if err != nil {
		return 0, wrapRedisErr("incr", err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapRedisErr("get", err)
	}
	return b, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return wrapRedisErr("set", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return wrapRedisErr("del", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return wrapRedisErr("ping", err)
	}
	return nil
}

// wrapRedisErr separa respostas de erro do servidor (WRONGTYPE etc.) de falhas de
// rede/conexão; só as últimas viram ErrUnavailable.
func wrapRedisErr(op string, err error) error {
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return fmt.Errorf("kv redis %s: %w", op, err)
	}
	return fmt.Errorf("kv redis %s: %w: %w", op, ErrUnavailable, err)
}
