package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"forum-throttle/middleware/ratelimit/domain"

	"github.com/caarlos0/env/v11"
)

type config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	DBPath     string `env:"DB_PATH" envDefault:"forum.db"`

	// KVBackend é "redis" (várias réplicas) ou "memory" (processo único).
	KVBackend     string `env:"KV_BACKEND" envDefault:"redis"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"forum"`

	RateEnabled        bool          `env:"RATE_ENABLED" envDefault:"true"`
	PostLimit          int64         `env:"RATE_LIMIT" envDefault:"5"`
	PostPeriod         time.Duration `env:"RATE_PERIOD" envDefault:"300s"`
	VoteLimit          int64         `env:"RATE_VOTE_LIMIT" envDefault:"30"`
	VotePeriod         time.Duration `env:"RATE_VOTE_PERIOD" envDefault:"60s"`
	SearchLimit        int64         `env:"RATE_SEARCH_LIMIT" envDefault:"10"`
	SearchPeriod       time.Duration `env:"RATE_SEARCH_PERIOD" envDefault:"60s"`
	RateGrace          time.Duration `env:"RATE_GRACE" envDefault:"10s"`
	RateFailPolicy     string        `env:"RATE_FAIL_POLICY" envDefault:"open"`
	RateBypass         bool          `env:"RATE_BYPASS" envDefault:"false"`
	RateKeyHeader      string        `env:"RATE_KEY_HEADER"`
	TrustXFF           bool          `env:"TRUST_XFF" envDefault:"false"`
	AddRateLimitHeader bool          `env:"ADD_RATELIMIT_HEADERS" envDefault:"true"`

	RateStatsEnabled   bool          `env:"RATE_STATS_ENABLED" envDefault:"false"`
	RateStatsPrefix    string        `env:"RATE_STATS_PREFIX" envDefault:"ratelimit:stats"`
	RateStatsTTL       time.Duration `env:"RATE_STATS_TTL" envDefault:"24h"`
	RateStatsBucket    time.Duration `env:"RATE_STATS_BUCKET" envDefault:"1m"`
	RateStatsTrackKeys bool          `env:"RATE_STATS_TRACK_KEYS" envDefault:"false"`

	ConcurrencyMax     int64         `env:"CONCURRENCY_MAX" envDefault:"100"`
	ConcurrencyTimeout time.Duration `env:"CONCURRENCY_TIMEOUT" envDefault:"0s"`
	ConcurrencyWeight  int64         `env:"CONCURRENCY_WRITE_WEIGHT" envDefault:"2"`

	ScoreRecomputeRPS   float64 `env:"SCORE_RECOMPUTE_RPS" envDefault:"0"`
	ScoreRecomputeBurst int     `env:"SCORE_RECOMPUTE_BURST" envDefault:"10"`
	ScoreSingleFlight   bool    `env:"SCORE_SINGLEFLIGHT" envDefault:"true"`
	MemoSingleFlight    bool    `env:"MEMO_SINGLEFLIGHT" envDefault:"true"`

	OtelEndpoint string `env:"OTEL_ENDPOINT"`
	OtelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	failPolicy domain.FailurePolicy
	logLevel   slog.Level
}

func readConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (cfg *config) validate() error {
	cfg.KVBackend = strings.ToLower(strings.TrimSpace(cfg.KVBackend))
	switch cfg.KVBackend {
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("REDIS_ADDR is required when KV_BACKEND=redis")
		}
	case "memory":
		if cfg.RateStatsEnabled {
			return errors.New("RATE_STATS_ENABLED requires KV_BACKEND=redis")
		}
	default:
		return fmt.Errorf("KV_BACKEND must be redis or memory, got %q", cfg.KVBackend)
	}

	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("DB_PATH is required")
	}
	for _, p := range []struct {
		name   string
		limit  int64
		period time.Duration
	}{
		{"RATE_LIMIT/RATE_PERIOD", cfg.PostLimit, cfg.PostPeriod},
		{"RATE_VOTE_LIMIT/RATE_VOTE_PERIOD", cfg.VoteLimit, cfg.VotePeriod},
		{"RATE_SEARCH_LIMIT/RATE_SEARCH_PERIOD", cfg.SearchLimit, cfg.SearchPeriod},
	} {
		if _, err := domain.NewPolicy(p.limit, p.period); err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
	}
	if cfg.RateGrace < 0 {
		return errors.New("RATE_GRACE must be >= 0")
	}

	fp, err := domain.ParseFailurePolicy(strings.ToLower(strings.TrimSpace(cfg.RateFailPolicy)))
	if err != nil {
		return fmt.Errorf("RATE_FAIL_POLICY: %w", err)
	}
	cfg.failPolicy = fp

	if cfg.ConcurrencyMax < 0 {
		return errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if cfg.ConcurrencyWeight < 1 {
		return errors.New("CONCURRENCY_WRITE_WEIGHT must be >= 1")
	}
	if cfg.ScoreRecomputeRPS < 0 {
		return errors.New("SCORE_RECOMPUTE_RPS must be >= 0")
	}
	if cfg.ScoreRecomputeRPS > 0 && cfg.ScoreRecomputeBurst <= 0 {
		return errors.New("SCORE_RECOMPUTE_BURST must be > 0")
	}

	if err := cfg.logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}
