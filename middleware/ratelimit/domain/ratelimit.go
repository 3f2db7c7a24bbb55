package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidArguments é devolvido na construção de uma política inválida
	// (limite ou período não positivos, endpoint vazio).
	ErrInvalidArguments = errors.New("ratelimit: invalid arguments")

	// ErrStoreUnavailable indica que o contador compartilhado não respondeu.
	ErrStoreUnavailable = errors.New("ratelimit: counter store unavailable")
)

// CounterStore é o contador compartilhado entre processos.
//
// Incremento + expiração são uma única chamada: a implementação não pode deixar um
// contador sem expiração nem perder incrementos concorrentes.
type CounterStore interface {
	IncrementAndExpireAt(ctx context.Context, key string, expireAt time.Time) (int64, error)
}

// Policy é a cota de uma rota: Limit requisições por janela fixa de Period.
type Policy struct {
	Limit  int64
	Period time.Duration
}

func NewPolicy(limit int64, period time.Duration) (Policy, error) {
	p := Policy{Limit: limit, Period: period}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) Validate() error {
	if p.Limit <= 0 {
		return fmt.Errorf("%w: limit must be > 0, got %d", ErrInvalidArguments, p.Limit)
	}
	if p.Period <= 0 {
		return fmt.Errorf("%w: period must be > 0, got %s", ErrInvalidArguments, p.Period)
	}
	return nil
}

func (p Policy) String() string {
	return fmt.Sprintf("%d/%s", p.Limit, p.Period)
}

// LimitStatus é o resultado de uma checagem.
//
// Count é o valor bruto do contador; Current é Count limitado a Limit, para não
// expor números arbitrariamente grandes sob abuso. Remaining nunca é negativo.
type LimitStatus struct {
	Count     int64
	Current   int64
	Limit     int64
	Remaining int64
	ResetAt   time.Time
	OverLimit bool
}

// FailurePolicy define o que fazer quando o contador está fora do ar.
type FailurePolicy int

const (
	// FailOpen deixa a requisição passar (padrão).
	FailOpen FailurePolicy = iota
	// FailClosed rejeita a requisição.
	FailClosed
)

func (f FailurePolicy) String() string {
	if f == FailClosed {
		return "closed"
	}
	return "open"
}

// ParseFailurePolicy aceita "open" ou "closed".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "open":
		return FailOpen, nil
	case "closed":
		return FailClosed, nil
	}
	return FailOpen, fmt.Errorf("%w: unknown failure policy %q", ErrInvalidArguments, s)
}
