package ratelimit

import (
	"log/slog"
	"net/http"
	"time"

	"forum-throttle/middleware/ratelimit/application"
	"forum-throttle/middleware/ratelimit/domain"
	"forum-throttle/middleware/ratelimit/infra"
)

type ConcurrencyOptions struct {
	// Max é a capacidade do pool; Max <= 0 sem Pool desliga o middleware.
	Max            int64
	AcquireTimeout time.Duration
	// WriteWeight é quanto uma escrita (voto, post) ocupa; leituras ocupam 1.
	WriteWeight int64

	Pool   domain.SlotPool
	Logger *slog.Logger
}

func requestWeight(r *http.Request, write int64) int64 {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return 1
	}
	return write
}

// ConcurrencyMiddleware limita o trabalho simultâneo no processo e responde 503
// quando nenhuma vaga abre dentro do AcquireTimeout.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 && opts.Pool == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.Pool == nil {
		opts.Pool = infra.NewWeightedPool(opts.Max)
	}
	if opts.WriteWeight <= 0 {
		opts.WriteWeight = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	svc := application.ConcurrencyService{
		Pool:           opts.Pool,
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			weight := requestWeight(r, opts.WriteWeight)
			release, err := svc.Acquire(r.Context(), weight)
			if err != nil {
				opts.Logger.WarnContext(r.Context(), "concurrency limit reached",
					"method", r.Method, "path", r.URL.Path, "weight", weight, "err", err)
				w.Header().Set("Retry-After", "1")
				WriteRejection(w, http.StatusServiceUnavailable, MsgBusy)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
