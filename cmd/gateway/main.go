package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"forum-throttle/kv"
	"forum-throttle/middleware/ratelimit"
	"forum-throttle/middleware/ratelimit/domain"
	"forum-throttle/middleware/ratelimit/infra"
	"forum-throttle/middleware/requestlog"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
)

// gateway aplica o rate limit do fórum na frente de um upstream que não tem o
// próprio (deploy legado), decidindo o endpoint lógico pelo caminho.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := readConfig()
	if err != nil {
		logger.Error("config error", "err", err)
		os.Exit(1)
	}

	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		logger.Error("invalid UPSTREAM_URL", "err", err)
		os.Exit(1)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.WarnContext(r.Context(), "proxy error", "err", err)
		ratelimit.WriteRejection(w, http.StatusBadGateway, "Bad gateway")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var store kv.Store
	var stats domain.StatsStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()

		rs := kv.NewRedisStore(rdb, kv.WithRedisPrefix(cfg.RedisPrefix))
		pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
		err := rs.Ping(pingCtx)
		cancelPing()
		if err != nil {
			logger.Error("redis ping error", "err", err)
			os.Exit(1)
		}
		store = rs
		if cfg.RateStatsEnabled {
			stats = infra.NewRedisStatsStore(rdb, infra.WithStatsPrefix(cfg.RateStatsPrefix))
		}
	} else {
		ms := kv.NewMemoryStore()
		ms.StartJanitor(ctx)
		store = ms
	}

	h := newHandler(proxy, cfg.routes, store, stats, cfg, logger)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.ConcurrencyMax,
		AcquireTimeout: cfg.ConcurrencyTimeout,
		Logger:         logger,
	})(h)
	h = requestlog.Middleware(requestlog.Options{Logger: logger})(h)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening", "addr", cfg.ListenAddr, "upstream", target.String())
	for _, rt := range cfg.routes {
		logger.Info("route", "endpoint", rt.endpoint, "method", rt.method, "prefix", rt.prefix, "policy", rt.policy.String())
	}
	logger.Info("rate", "fail_policy", cfg.failPolicy.String(), "key_header", cfg.RateKeyHeader,
		"trust_xff", cfg.TrustXFF, "redis", cfg.RedisAddr != "", "stats", stats != nil)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

// newHandler monta um Guard por rota; requisições sem rota vão direto ao upstream.
func newHandler(upstream http.Handler, routes []route, store kv.Store, stats domain.StatsStore, cfg config, logger *slog.Logger) http.Handler {
	guarded := make([]http.Handler, len(routes))
	for i, rt := range routes {
		guarded[i] = ratelimit.MustGuard(ratelimit.GuardOptions{
			Store:               store,
			Stats:               stats,
			Policy:              rt.policy,
			Endpoint:            rt.endpoint,
			KeyHeader:           cfg.RateKeyHeader,
			TrustXForwardedFor:  cfg.TrustXFF,
			FailurePolicy:       cfg.failPolicy,
			AddRateLimitHeaders: cfg.AddHeaders,
			Logger:              logger,
		}).Middleware(upstream)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if i := match(routes, r); i >= 0 {
			guarded[i].ServeHTTP(w, r)
			return
		}
		upstream.ServeHTTP(w, r)
	})
}

type config struct {
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	UpstreamURL string `env:"UPSTREAM_URL"`
	Routes      string `env:"GATEWAY_ROUTES"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"gateway"`

	RateFailPolicy   string `env:"RATE_FAIL_POLICY" envDefault:"open"`
	RateKeyHeader    string `env:"RATE_KEY_HEADER"`
	TrustXFF         bool   `env:"TRUST_XFF" envDefault:"false"`
	AddHeaders       bool   `env:"ADD_RATELIMIT_HEADERS" envDefault:"false"`
	RateStatsEnabled bool   `env:"RATE_STATS_ENABLED" envDefault:"false"`
	RateStatsPrefix  string `env:"RATE_STATS_PREFIX" envDefault:"ratelimit:stats"`

	ConcurrencyMax     int64         `env:"CONCURRENCY_MAX" envDefault:"100"`
	ConcurrencyTimeout time.Duration `env:"CONCURRENCY_TIMEOUT" envDefault:"0s"`

	routes     []route
	failPolicy domain.FailurePolicy
}

func readConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}
	if strings.TrimSpace(cfg.UpstreamURL) == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.RateStatsEnabled && cfg.RedisAddr == "" {
		return config{}, errors.New("RATE_STATS_ENABLED requires REDIS_ADDR")
	}
	if cfg.ConcurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	raw := cfg.Routes
	if strings.TrimSpace(raw) == "" {
		raw = defaultRoutes
	}
	routes, err := parseRoutes(raw)
	if err != nil {
		return config{}, fmt.Errorf("GATEWAY_ROUTES: %w", err)
	}
	cfg.routes = routes

	fp, err := domain.ParseFailurePolicy(strings.ToLower(cfg.RateFailPolicy))
	if err != nil {
		return config{}, fmt.Errorf("RATE_FAIL_POLICY: %w", err)
	}
	cfg.failPolicy = fp
	return cfg, nil
}
