package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"forum-throttle/middleware/ratelimit/domain"
)

var ErrNoSlot = errors.New("concurrency: no slot available")

// ConcurrencyService adquire vagas do Pool com timeout, sem saber de HTTP.
// Sem Pool tudo passa; AcquireTimeout <= 0 espera pelo ctx.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire ajusta weight para [1, Capacity]: um peso maior que o pool nunca seria atendido.
func (s ConcurrencyService) Acquire(ctx context.Context, weight int64) (func(), error) {
	if s.Pool == nil {
		return func() {}, nil
	}
	weight = max(weight, 1)
	if c := s.Pool.Capacity(); weight > c {
		weight = c
	}

	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release, err := s.Pool.Acquire(ctx, weight)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoSlot, err)
	}
	return release, nil
}
