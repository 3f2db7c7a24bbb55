// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - WeightedPool: semáforo com peso para o limite de concorrência
//   - MemoryStatsStore / RedisStatsStore / PrometheusStatsStore: estatísticas das decisões
//
// O contador da janela fixa em si mora no pacote kv (compartilhado com o cache).
package infra
