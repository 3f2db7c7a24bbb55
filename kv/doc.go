// Package kv define o armazenamento chave/valor compartilhado entre todos os processos
// da aplicação: contador atômico com expiração absoluta (usado pelo rate limit) e
// get/set com TTL (usado pelo cache de agregados).
//
// Implementações:
//
//   - RedisStore: produção, via github.com/redis/go-redis/v9 (MULTI/EXEC para INCR+EXPIREAT)
//   - MemoryStore: testes e desenvolvimento, um único processo
//
// Toda falha de conexão com o backend é devolvida embrulhando ErrUnavailable; quem chama
// decide a política (fail-open / fail-closed).
package kv
