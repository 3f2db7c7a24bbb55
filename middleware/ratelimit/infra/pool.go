package infra

import (
	"context"
	"sync/atomic"

	"forum-throttle/middleware/ratelimit/domain"

	"golang.org/x/sync/semaphore"
)

// WeightedPool é um SlotPool sobre semaphore.Weighted.
type WeightedPool struct {
	sem   *semaphore.Weighted
	size  int64
	inUse atomic.Int64
}

var _ domain.SlotPool = (*WeightedPool)(nil)

func NewWeightedPool(size int64) *WeightedPool {
	return &WeightedPool{sem: semaphore.NewWeighted(size), size: size}
}

func (p *WeightedPool) Acquire(ctx context.Context, weight int64) (func(), error) {
	if err := p.sem.Acquire(ctx, weight); err != nil {
		return nil, err
	}
	p.inUse.Add(weight)

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			p.inUse.Add(-weight)
			p.sem.Release(weight)
		}
	}, nil
}

func (p *WeightedPool) Capacity() int64 { return p.size }

// InUse devolve o peso ocupado agora.
func (p *WeightedPool) InUse() int64 { return p.inUse.Load() }
