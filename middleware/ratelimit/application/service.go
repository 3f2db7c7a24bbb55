package application

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"forum-throttle/middleware/ratelimit/domain"
)

// DefaultGrace é quanto o contador sobrevive além do fim da janela, cobrindo
// diferença de relógio entre processos e requisições ainda em voo.
const DefaultGrace = 10 * time.Second

// Service concentra a regra de janela fixa do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna o LimitStatus.
type Service struct {
	Store domain.CounterStore
	Grace time.Duration
	Now   func() time.Time
}

// Window devolve o fim (reset) da janela fixa que contém now.
func Window(now time.Time, period time.Duration) (resetAt time.Time) {
	n := now.UnixNano()
	per := int64(period)
	start := n - n%per
	if n < 0 && n%per != 0 {
		start -= per
	}
	return time.Unix(0, start+per)
}

// WindowKey monta a chave do contador para (scope, endpoint, janela).
func WindowKey(scope, endpoint string, resetAt time.Time) string {
	return "rate-limit/" + endpoint + "/" + scope + "/" + strconv.FormatInt(resetAt.UnixMilli(), 10)
}

// Check incrementa o contador da janela corrente e diz se a cota estourou.
//
// Erros do store voltam embrulhados em domain.ErrStoreUnavailable junto com um
// LimitStatus parcial (Limit/ResetAt preenchidos); a política fail-open/closed é de
// quem chama.
func (s Service) Check(ctx context.Context, scope, endpoint string, p domain.Policy) (domain.LimitStatus, error) {
	if err := p.Validate(); err != nil {
		return domain.LimitStatus{}, err
	}
	if scope == "" || endpoint == "" {
		return domain.LimitStatus{}, fmt.Errorf("%w: scope and endpoint are required", domain.ErrInvalidArguments)
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	grace := s.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	resetAt := Window(now(), p.Period)
	st := domain.LimitStatus{
		Limit:     p.Limit,
		Remaining: p.Limit,
		ResetAt:   resetAt,
	}
	if s.Store == nil {
		return st, fmt.Errorf("%w: no store configured", domain.ErrStoreUnavailable)
	}

	count, err := s.Store.IncrementAndExpireAt(ctx, WindowKey(scope, endpoint, resetAt), resetAt.Add(grace))
	if err != nil {
		return st, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	st.Count = count
	st.Current = min(count, p.Limit)
	st.Remaining = p.Limit - st.Current
	st.OverLimit = count > p.Limit
	return st, nil
}
