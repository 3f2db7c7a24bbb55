package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forum-throttle/cache/memo"
	"forum-throttle/forum/httpapi"
	"forum-throttle/forum/score"
	"forum-throttle/forum/stats"
	"forum-throttle/forum/storage/sqlite"
	"forum-throttle/internal/otelx"
	"forum-throttle/kv"
	"forum-throttle/middleware/ratelimit"
	"forum-throttle/middleware/ratelimit/domain"
	"forum-throttle/middleware/ratelimit/infra"
	"forum-throttle/middleware/requestlog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("forumd stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := otelx.Setup(ctx, "forumd", cfg.OtelEndpoint, cfg.OtelEnabled)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	db, err := sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg.MustRegister(memo.Collectors()...)

	promStats, err := infra.NewPrometheusStatsStore(reg)
	if err != nil {
		return err
	}
	statsStores := infra.MultiStats{promStats}

	var (
		store     kv.Store
		ready     = db.PingContext
		rateStats domain.StatsReader
	)
	switch cfg.KVBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()

		rs := kv.NewRedisStore(rdb, kv.WithRedisPrefix(cfg.RedisPrefix))
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rs.Ping(pingCtx)
		cancel()
		if err != nil {
			return err
		}
		store = rs
		ready = func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
			return rs.Ping(ctx)
		}

		if cfg.RateStatsEnabled {
			rstats := infra.NewRedisStatsStore(
				rdb,
				infra.WithStatsPrefix(cfg.RateStatsPrefix),
				infra.WithStatsTTL(cfg.RateStatsTTL),
				infra.WithStatsBucket(cfg.RateStatsBucket),
				infra.WithStatsTrackKeys(cfg.RateStatsTrackKeys),
			)
			statsStores = append(statsStores, rstats)
			rateStats = rstats
		}
	case "memory":
		ms := kv.NewMemoryStore(kv.WithMemoryPrefix(cfg.RedisPrefix))
		ms.StartJanitor(ctx)
		store = ms
	}
	if rateStats == nil {
		// sem redis os contadores ficam no processo
		mstats := infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.RateStatsTrackKeys))
		statsStores = append(statsStores, mstats)
		rateStats = mstats
	}

	memoOpts := []memo.Option{memo.WithLogger(logger)}
	if cfg.MemoSingleFlight {
		memoOpts = append(memoOpts, memo.WithSingleFlight())
	}
	scoreOpts := []score.Option{
		score.WithLogger(logger),
		score.WithRecomputeLimit(cfg.ScoreRecomputeRPS, cfg.ScoreRecomputeBurst),
	}
	if cfg.ScoreSingleFlight {
		scoreOpts = append(scoreOpts, score.WithSingleFlight())
	}

	engine := score.New(db, scoreOpts...)
	catalog := stats.New(memo.New(store, memoOpts...), db, engine)

	apiOpts := httpapi.Options{
		Store:     db,
		Catalog:   catalog,
		RateStats: rateStats,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Ready:     ready,
		Logger:    logger,
	}
	if cfg.RateEnabled {
		newGuard := func(endpoint string, limit int64, period time.Duration) *ratelimit.Guard {
			return ratelimit.MustGuard(ratelimit.GuardOptions{
				Store:               store,
				Stats:               statsStores,
				Policy:              domain.Policy{Limit: limit, Period: period},
				Endpoint:            endpoint,
				KeyHeader:           cfg.RateKeyHeader,
				TrustXForwardedFor:  cfg.TrustXFF,
				Grace:               cfg.RateGrace,
				FailurePolicy:       cfg.failPolicy,
				Bypass:              cfg.RateBypass,
				AddRateLimitHeaders: cfg.AddRateLimitHeader,
				Logger:              logger,
			})
		}
		apiOpts.PostGuard = newGuard("submit_post", cfg.PostLimit, cfg.PostPeriod)
		apiOpts.VoteGuard = newGuard("vote", cfg.VoteLimit, cfg.VotePeriod)
		apiOpts.SearchGuard = newGuard("search", cfg.SearchLimit, cfg.SearchPeriod)
	}

	h := httpapi.NewHandler(apiOpts)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.ConcurrencyMax,
		WriteWeight:    cfg.ConcurrencyWeight,
		AcquireTimeout: cfg.ConcurrencyTimeout,
		Logger:         logger,
	})(h)
	h = requestlog.Middleware(requestlog.Options{
		Logger:    logger,
		SkipPaths: []string{"/healthz", "/metrics"},
	})(h)

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

	logger.Info("forumd listening", "addr", cfg.ListenAddr, "db", cfg.DBPath)
	logger.Info("kv", "backend", cfg.KVBackend, "redis_addr", cfg.RedisAddr, "prefix", cfg.RedisPrefix)
	logger.Info("rate",
		"enabled", cfg.RateEnabled,
		"submit_post", policyString(cfg.PostLimit, cfg.PostPeriod),
		"vote", policyString(cfg.VoteLimit, cfg.VotePeriod),
		"search", policyString(cfg.SearchLimit, cfg.SearchPeriod),
		"grace", cfg.RateGrace, "fail_policy", cfg.failPolicy.String(), "bypass", cfg.RateBypass,
		"key_header", cfg.RateKeyHeader, "trust_xff", cfg.TrustXFF)
	logger.Info("rate-stats", "redis", cfg.RateStatsEnabled, "bucket", cfg.RateStatsBucket,
		"ttl", cfg.RateStatsTTL, "track_keys", cfg.RateStatsTrackKeys)
	logger.Info("concurrency", "max", cfg.ConcurrencyMax, "write_weight", cfg.ConcurrencyWeight,
		"acquire_timeout", cfg.ConcurrencyTimeout)
	logger.Info("score", "recompute_rps", cfg.ScoreRecomputeRPS, "burst", cfg.ScoreRecomputeBurst,
		"singleflight", cfg.ScoreSingleFlight, "memo_singleflight", cfg.MemoSingleFlight)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func policyString(limit int64, period time.Duration) string {
	return domain.Policy{Limit: limit, Period: period}.String()
}
