package infra

import (
	"context"
	"strconv"
	"strings"
	"time"

	"forum-throttle/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore guarda as decisões em hashes (allowed/denied/degraded):
//
//	<prefix>:total
//	<prefix>:ep:<endpoint>              cumulativo, endpoints listados em <prefix>:endpoints
//	<prefix>:ep:<endpoint>:<unix>       janela de tamanho bucket, expira em ttl
//	<prefix>:client:<scope>             só com WithStatsTrackKeys, expira em ttl
type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix    string
	ttl       time.Duration
	bucket    time.Duration
	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsBucket define o tamanho das janelas por endpoint; 0 desliga.
func WithStatsBucket(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = d }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) endpointKey(ep string) string { return s.prefix + ":ep:" + ep }

func (s *RedisStatsStore) windowKey(ep string, at time.Time) string {
	start := at.Truncate(s.bucket).Unix()
	return s.endpointKey(ep) + ":" + strconv.FormatInt(start, 10)
}

func incrCounters(ctx context.Context, pipe redis.Pipeliner, key string, ev domain.StatsEvent) {
	if ev.Allowed {
		pipe.HIncrBy(ctx, key, "allowed", 1)
	} else {
		pipe.HIncrBy(ctx, key, "denied", 1)
	}
	if ev.Degraded {
		pipe.HIncrBy(ctx, key, "degraded", 1)
	}
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	ep := strings.TrimSpace(ev.Endpoint)

	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incrCounters(ctx, pipe, s.prefix+":total", ev)

		if ep != "" {
			pipe.SAdd(ctx, s.prefix+":endpoints", ep)
			incrCounters(ctx, pipe, s.endpointKey(ep), ev)
			if s.bucket > 0 {
				wk := s.windowKey(ep, at)
				incrCounters(ctx, pipe, wk, ev)
				if s.ttl > 0 {
					pipe.Expire(ctx, wk, s.ttl)
				}
			}
		}

		if scope := strings.TrimSpace(ev.Key); s.trackKeys && scope != "" {
			ck := s.prefix + ":client:" + scope
			incrCounters(ctx, pipe, ck, ev)
			if s.ttl > 0 {
				pipe.Expire(ctx, ck, s.ttl)
			}
		}
		return nil
	})
	return err
}

// Snapshot lê total e endpoints. Clientes não entram: exigiriam SCAN no keyspace.
func (s *RedisStatsStore) Snapshot(ctx context.Context) (domain.StatsSnapshot, error) {
	snap := domain.StatsSnapshot{ByEndpoint: make(map[string]domain.Counters)}
	if s == nil || s.rdb == nil {
		return snap, nil
	}

	endpoints, err := s.rdb.SMembers(ctx, s.prefix+":endpoints").Result()
	if err != nil {
		return snap, err
	}

	total := s.rdb.HGetAll(ctx, s.prefix+":total")
	if err := total.Err(); err != nil {
		return snap, err
	}
	snap.Total = parseCounters(total.Val())

	if len(endpoints) == 0 {
		return snap, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(endpoints))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, ep := range endpoints {
			cmds[i] = pipe.HGetAll(ctx, s.endpointKey(ep))
		}
		return nil
	})
	if err != nil {
		return snap, err
	}
	for i, ep := range endpoints {
		snap.ByEndpoint[ep] = parseCounters(cmds[i].Val())
	}
	return snap, nil
}

// Window devolve os contadores da janela de ep que contém at.
func (s *RedisStatsStore) Window(ctx context.Context, ep string, at time.Time) (domain.Counters, error) {
	if s.bucket <= 0 {
		return domain.Counters{}, nil
	}
	m, err := s.rdb.HGetAll(ctx, s.windowKey(ep, at)).Result()
	if err != nil {
		return domain.Counters{}, err
	}
	return parseCounters(m), nil
}

func parseCounters(m map[string]string) domain.Counters {
	n := func(f string) int64 {
		v, _ := strconv.ParseInt(m[f], 10, 64)
		return v
	}
	return domain.Counters{Allowed: n("allowed"), Denied: n("denied"), Degraded: n("degraded")}
}
