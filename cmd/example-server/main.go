package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forum-throttle/kv"
	"forum-throttle/middleware/ratelimit"
	"forum-throttle/middleware/ratelimit/domain"
	"forum-throttle/middleware/ratelimit/infra"
	"forum-throttle/middleware/requestlog"
)

func main() {
	// Exemplo: o guard direto no seu webserver, com contador em memória (um processo só)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := kv.NewMemoryStore()
	store.StartJanitor(ctx)
	stats := infra.NewMemoryStatsStore(infra.WithTrackKeys(true))

	guard := ratelimit.MustGuard(ratelimit.GuardOptions{
		Store:               store,
		Stats:               stats,
		Policy:              domain.Policy{Limit: 5, Period: 300 * time.Second},
		EndpointFn:          ratelimit.PatternKeyFunc,
		KeyHeader:           "X-Api-Key", // ou vazio para usar IP
		TrustXForwardedFor:  true,
		AddRateLimitHeaders: true,
		Logger:              logger,
	})

	mux := http.NewServeMux()
	mux.Handle("POST /submit", guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, _ := ratelimit.StatusFromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "remaining": st.Remaining})
	})))
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		snap, _ := stats.Snapshot(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})

	h := http.Handler(mux)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50, Logger: logger})(h)
	h = requestlog.Middleware(requestlog.Options{Logger: logger})(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
