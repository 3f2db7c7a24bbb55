package main

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"forum-throttle/middleware/ratelimit/domain"
)

func TestReadConfig_Defaults(t *testing.T) {
	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.KVBackend != "redis" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PostLimit != 5 || cfg.PostPeriod != 300*time.Second || cfg.RateGrace != 10*time.Second {
		t.Fatalf("unexpected rate defaults: limit=%d period=%s grace=%s", cfg.PostLimit, cfg.PostPeriod, cfg.RateGrace)
	}
	if cfg.failPolicy != domain.FailOpen || cfg.logLevel != slog.LevelInfo {
		t.Fatalf("unexpected derived defaults: %v %v", cfg.failPolicy, cfg.logLevel)
	}
}

func TestReadConfig_Overrides(t *testing.T) {
	t.Setenv("KV_BACKEND", "Memory")
	t.Setenv("RATE_LIMIT", "3")
	t.Setenv("RATE_PERIOD", "1m")
	t.Setenv("RATE_FAIL_POLICY", "closed")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.KVBackend != "memory" || cfg.PostLimit != 3 || cfg.PostPeriod != time.Minute {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.failPolicy != domain.FailClosed || cfg.logLevel != slog.LevelDebug {
		t.Fatalf("unexpected derived config: %v %v", cfg.failPolicy, cfg.logLevel)
	}
}

func TestReadConfig_Invalid(t *testing.T) {
	cases := []struct {
		env  map[string]string
		want string
	}{
		{map[string]string{"KV_BACKEND": "etcd"}, "KV_BACKEND"},
		{map[string]string{"KV_BACKEND": "memory", "RATE_STATS_ENABLED": "true"}, "RATE_STATS_ENABLED"},
		{map[string]string{"RATE_LIMIT": "0"}, "RATE_LIMIT"},
		{map[string]string{"RATE_VOTE_PERIOD": "0s"}, "RATE_VOTE_LIMIT"},
		{map[string]string{"RATE_FAIL_POLICY": "maybe"}, "RATE_FAIL_POLICY"},
		{map[string]string{"CONCURRENCY_MAX": "-1"}, "CONCURRENCY_MAX"},
		{map[string]string{"CONCURRENCY_WRITE_WEIGHT": "0"}, "CONCURRENCY_WRITE_WEIGHT"},
		{map[string]string{"LOG_LEVEL": "loud"}, "LOG_LEVEL"},
		{map[string]string{"RATE_PERIOD": "soon"}, "parse env"},
	}
	for _, c := range cases {
		t.Run(c.want, func(t *testing.T) {
			for k, v := range c.env {
				t.Setenv(k, v)
			}
			_, err := readConfig()
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Fatalf("expected error mentioning %q, got %v", c.want, err)
			}
		})
	}
}
