package domain

import "context"

// SlotPool limita o trabalho em voo no processo. Cada requisição ocupa weight
// vagas; release devolve exatamente essas vagas e deve ser chamado uma vez.
type SlotPool interface {
	Acquire(ctx context.Context, weight int64) (release func(), err error)
	Capacity() int64
}
