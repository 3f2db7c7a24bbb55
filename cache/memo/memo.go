package memo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"forum-throttle/kv"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

var ErrInvalidArguments = errors.New("memo: invalid arguments")

var requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "forum_memo_requests_total",
	Help: "Memoized computations by name and result (hit, miss, error).",
}, []string{"name", "result"})

// Collectors devolve os coletores do pacote para registro no /metrics.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{requestsTotal}
}

var tracer = otel.Tracer("forum-throttle/cache/memo")

type Memo struct {
	store  kv.Cache
	logger *slog.Logger
	single bool
	group  singleflight.Group
}

type Option func(*Memo)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Memo) { m.logger = logger }
}

// WithSingleFlight colapsa misses concorrentes da mesma chave dentro do processo.
func WithSingleFlight() Option {
	return func(m *Memo) { m.single = true }
}

func New(store kv.Cache, opts ...Option) *Memo {
	m := &Memo{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCompute devolve o valor de fn(ctx) para (name, args), guardado por ttl.
//
// Erros de fn voltam sem alteração e nada é gravado. Falha de leitura no store vira
// cálculo direto; falha de escrita só é logada.
func GetOrCompute[T any](ctx context.Context, m *Memo, name string, ttl time.Duration, fn func(context.Context) (T, error), args ...any) (T, error) {
	var zero T
	if name == "" || ttl <= 0 {
		return zero, fmt.Errorf("%w: name and positive ttl are required (name=%q ttl=%s)", ErrInvalidArguments, name, ttl)
	}
	key, err := Key(name, args...)
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrInvalidArguments, err)
	}

	raw, ok, err := m.store.Get(ctx, key)
	switch {
	case err != nil:
		m.logger.WarnContext(ctx, "memo read failed, computing without cache", "name", name, "err", err)
	case ok:
		var v T
		derr := json.Unmarshal(raw, &v)
		if derr == nil {
			requestsTotal.WithLabelValues(name, "hit").Inc()
			return v, nil
		}
		m.logger.WarnContext(ctx, "memo entry undecodable, recomputing", "name", name, "err", derr)
	}

	if !m.single {
		return compute(ctx, m, name, key, ttl, fn)
	}
	// o cálculo compartilhado não herda o cancelamento de quem abriu o voo;
	// cada chamador desiste pelo próprio ctx
	ch := m.group.DoChan(key, func() (any, error) {
		return compute(context.WithoutCancel(ctx), m, name, key, ttl, fn)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func compute[T any](ctx context.Context, m *Memo, name, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, "memo.compute")
	defer span.End()
	span.SetAttributes(attribute.String("memo.name", name))

	v, err := fn(ctx)
	if err != nil {
		requestsTotal.WithLabelValues(name, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return v, err
	}
	requestsTotal.WithLabelValues(name, "miss").Inc()

	b, err := json.Marshal(v)
	if err != nil {
		m.logger.WarnContext(ctx, "memo encode failed, not caching", "name", name, "err", err)
		return v, nil
	}
	if err := m.store.Set(ctx, key, b, ttl); err != nil {
		m.logger.WarnContext(ctx, "memo write failed", "name", name, "err", err)
	}
	return v, nil
}

// Invalidate apaga a entrada de (name, args), se existir.
func (m *Memo) Invalidate(ctx context.Context, name string, args ...any) error {
	key, err := Key(name, args...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArguments, err)
	}
	return m.store.Delete(ctx, key)
}
