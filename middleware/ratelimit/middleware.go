package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"forum-throttle/middleware/ratelimit/application"
	"forum-throttle/middleware/ratelimit/domain"
)

type GuardOptions struct {
	Store  domain.CounterStore
	Stats  domain.StatsStore
	Policy domain.Policy

	// Endpoint é o nome lógico da rota; EndpointFn tem precedência quando setado.
	Endpoint   string
	EndpointFn KeyFunc

	// ScopeFn identifica o cliente; se nil, usa DefaultKeyFunc(KeyHeader, TrustXForwardedFor).
	ScopeFn            KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool

	Grace         time.Duration
	FailurePolicy domain.FailurePolicy

	// Bypass conta a requisição mas nunca rejeita (modo de teste).
	Bypass bool
	// Exempt pula a checagem inteira, sem tocar no store.
	Exempt func(r *http.Request) bool

	AddRateLimitHeaders bool
	RejectMessage       string

	Logger *slog.Logger
	Now    func() time.Time
}

// Verdict é o resultado de Decide: seguir para o handler ou rejeitar.
type Verdict struct {
	Proceed bool
	// Checked é false quando a requisição foi isenta.
	Checked bool
	Status  domain.LimitStatus
	// Err vem preenchido quando o store falhou; Proceed segue a FailurePolicy.
	Err error
}

// Guard é o rate limit de uma rota (ou grupo de rotas), montado uma vez com a
// política e aplicado como middleware antes do handler.
type Guard struct {
	opts GuardOptions
	svc  application.Service
}

func NewGuard(opts GuardOptions) (*Guard, error) {
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", domain.ErrInvalidArguments)
	}
	if opts.Endpoint == "" && opts.EndpointFn == nil {
		return nil, fmt.Errorf("%w: endpoint is required", domain.ErrInvalidArguments)
	}
	if opts.ScopeFn == nil {
		opts.ScopeFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.RejectMessage == "" {
		opts.RejectMessage = MsgOverLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Guard{
		opts: opts,
		svc: application.Service{
			Store: opts.Store,
			Grace: opts.Grace,
			Now:   opts.Now,
		},
	}, nil
}

// MustGuard é NewGuard para wiring em main; entra em pânico com opções inválidas.
func MustGuard(opts GuardOptions) *Guard {
	g, err := NewGuard(opts)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Guard) endpoint(r *http.Request) string {
	if g.opts.EndpointFn != nil {
		return g.opts.EndpointFn(r)
	}
	return g.opts.Endpoint
}

// Decide consulta o contador e decide, sem escrever nada na resposta.
func (g *Guard) Decide(r *http.Request) Verdict {
	if g.opts.Exempt != nil && g.opts.Exempt(r) {
		return Verdict{Proceed: true}
	}

	ctx := r.Context()
	scope := g.opts.ScopeFn(r)
	endpoint := g.endpoint(r)

	st, err := g.svc.Check(ctx, scope, endpoint, g.opts.Policy)
	v := Verdict{Checked: true, Status: st, Err: err}
	switch {
	case errors.Is(err, domain.ErrInvalidArguments):
		v.Proceed = false
		g.opts.Logger.ErrorContext(ctx, "rate limit check rejected arguments",
			"endpoint", endpoint, "scope", scope, "err", err)
	case err != nil:
		v.Proceed = g.opts.FailurePolicy == domain.FailOpen
		g.opts.Logger.WarnContext(ctx, "rate limit store unavailable",
			"endpoint", endpoint, "scope", scope, "fail_policy", g.opts.FailurePolicy.String(), "err", err)
	case st.OverLimit && g.opts.Bypass:
		v.Proceed = true
		g.opts.Logger.DebugContext(ctx, "rate limit exceeded (bypass)", "endpoint", endpoint, "scope", scope)
	case st.OverLimit:
		v.Proceed = false
	default:
		v.Proceed = true
	}

	if g.opts.Stats != nil {
		if serr := g.opts.Stats.Record(ctx, domain.StatsEvent{
			Key:      scope,
			Endpoint: endpoint,
			Allowed:  v.Proceed,
			Degraded: err != nil,
			Method:   r.Method,
			Path:     r.URL.Path,
			At:       g.opts.Now(),
		}); serr != nil {
			g.opts.Logger.DebugContext(ctx, "rate limit stats record failed", "err", serr)
		}
	}
	return v
}

// Middleware aplica Decide antes de next.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := g.Decide(r)
		if !v.Checked {
			next.ServeHTTP(w, r)
			return
		}

		if g.opts.AddRateLimitHeaders && v.Err == nil {
			w.Header().Set("X-RateLimit-Limit", formatInt64(v.Status.Limit))
			w.Header().Set("X-RateLimit-Remaining", formatInt64(v.Status.Remaining))
			w.Header().Set("X-RateLimit-Reset", formatInt64(v.Status.ResetAt.Unix()))
		}

		if !v.Proceed {
			if errors.Is(v.Err, domain.ErrInvalidArguments) {
				WriteRejection(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
				return
			}
			if v.Err != nil {
				WriteRejection(w, http.StatusServiceUnavailable, MsgUnavailable)
				return
			}
			w.Header().Set("Retry-After", formatInt64(retryAfterSeconds(v.Status.ResetAt, g.opts.Now())))
			WriteRejection(w, http.StatusTooManyRequests, g.opts.RejectMessage)
			return
		}

		if v.Err == nil {
			r = r.WithContext(context.WithValue(r.Context(), statusKey{}, v.Status))
		}
		next.ServeHTTP(w, r)
	})
}

type statusKey struct{}

// StatusFromContext devolve o LimitStatus da checagem que deixou a requisição passar.
func StatusFromContext(ctx context.Context) (domain.LimitStatus, bool) {
	st, ok := ctx.Value(statusKey{}).(domain.LimitStatus)
	return st, ok
}
