package domain

import (
	"context"
	"time"
)

// StatsEvent é uma decisão do guard. Key é o scope do cliente; guardar Key por
// cliente multiplica chaves, então os stores só fazem isso quando configurados.
type StatsEvent struct {
	Key      string
	Endpoint string
	Allowed  bool
	// Degraded marca decisões tomadas sem o contador (store fora do ar).
	Degraded bool

	Method string
	Path   string

	At time.Time
}

// StatsStore recebe as decisões; o guard trata erro como best-effort.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// Counters soma decisões de um recorte (total, endpoint ou cliente).
type Counters struct {
	Allowed  int64 `json:"allowed"`
	Denied   int64 `json:"denied"`
	Degraded int64 `json:"degraded"`
}

func (c *Counters) Add(ev StatsEvent) {
	if ev.Allowed {
		c.Allowed++
	} else {
		c.Denied++
	}
	if ev.Degraded {
		c.Degraded++
	}
}

type StatsSnapshot struct {
	Total      Counters            `json:"total"`
	ByEndpoint map[string]Counters `json:"by_endpoint"`
	ByKey      map[string]Counters `json:"by_key,omitempty"`
}

// StatsReader é implementado pelos stores que sabem devolver o acumulado.
type StatsReader interface {
	Snapshot(ctx context.Context) (StatsSnapshot, error)
}
