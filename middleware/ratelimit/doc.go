// Package ratelimit fornece adapters HTTP (net/http) para rate limit de janela fixa e
// limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (janela fixa, acquire/timeout) sem net/http
//   - infra: implementações concretas (semáforo, stats em memória/Redis/Prometheus)
//   - ratelimit (este pacote): Guard/middlewares HTTP + extração de chave + tradução para status/headers
//
// Fluxo de uma rota de escrita:
//
//  1. Extrai o scope do cliente (header/XFF/RemoteAddr) e o nome da rota
//  2. Chama application.Service.Check (um INCR+EXPIREAT no store compartilhado)
//  3. Se estourou, responde 429 com {"status":"error","error":[...]}
//  4. Se o store caiu, segue a FailurePolicy (fail-open por padrão, ou 503)
//  5. Se permitido, chama o próximo handler
//
// Variáveis de ambiente do binário (cmd/forumd) controlam o comportamento,
// como RATE_LIMIT, RATE_PERIOD, RATE_FAIL_POLICY e CONCURRENCY_MAX.
package ratelimit
