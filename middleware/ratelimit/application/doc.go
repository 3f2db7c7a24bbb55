// Package application contém os casos de uso (regras de aplicação) para rate limit
// e limite de concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Check(ctx, scope, endpoint, policy) retorna um LimitStatus
// (contador da janela fixa, restante, reset e se estourou).
package application
