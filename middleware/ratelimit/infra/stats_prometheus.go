package infra

import (
	"context"

	"forum-throttle/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStatsStore expõe as decisões como contador com labels endpoint/decision.
// A chave (IP) nunca vira label.
type PrometheusStatsStore struct {
	decisions *prometheus.CounterVec
}

func NewPrometheusStatsStore(reg prometheus.Registerer) (*PrometheusStatsStore, error) {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forum_ratelimit_decisions_total",
		Help: "Rate limit decisions by endpoint and outcome.",
	}, []string{"endpoint", "decision"})
	if err := reg.Register(decisions); err != nil {
		return nil, err
	}
	return &PrometheusStatsStore{decisions: decisions}, nil
}

func (s *PrometheusStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	decision := "denied"
	switch {
	case ev.Degraded && ev.Allowed:
		decision = "degraded_allowed"
	case ev.Degraded:
		decision = "degraded_denied"
	case ev.Allowed:
		decision = "allowed"
	}
	s.decisions.WithLabelValues(ev.Endpoint, decision).Inc()
	return nil
}

// MultiStats repassa o evento a vários stores e devolve o primeiro erro.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
