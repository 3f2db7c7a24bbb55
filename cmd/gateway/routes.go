package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"forum-throttle/middleware/ratelimit/domain"
)

// route liga um prefixo de caminho do upstream a um endpoint lógico com sua política.
type route struct {
	endpoint string
	method   string // vazio = qualquer método
	prefix   string
	policy   domain.Policy
}

// defaultRoutes são as rotas de escrita e busca do fórum legado.
const defaultRoutes = "submit_post:POST:/do/post:5:300s;" +
	"vote:POST:/do/upvote:30:60s;" +
	"vote:POST:/do/downvote:30:60s;" +
	"vote:POST:/do/upvotecomment:30:60s;" +
	"vote:POST:/do/downvotecomment:30:60s;" +
	"search:GET:/search:10:60s"

// parseRoutes lê "endpoint:METODO:/prefixo:limite:periodo" separados por ";".
func parseRoutes(raw string) ([]route, error) {
	var out []route
	for _, item := range strings.Split(raw, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) != 5 {
			return nil, fmt.Errorf("route %q: want endpoint:method:prefix:limit:period", item)
		}
		limit, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("route %q: limit: %w", item, err)
		}
		period, err := time.ParseDuration(parts[4])
		if err != nil {
			return nil, fmt.Errorf("route %q: period: %w", item, err)
		}
		policy, err := domain.NewPolicy(limit, period)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", item, err)
		}
		if parts[0] == "" || !strings.HasPrefix(parts[2], "/") {
			return nil, fmt.Errorf("route %q: endpoint and /prefix are required", item)
		}
		out = append(out, route{
			endpoint: parts[0],
			method:   strings.ToUpper(parts[1]),
			prefix:   parts[2],
			policy:   policy,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no routes configured")
	}
	return out, nil
}

// match devolve o índice da rota de prefixo mais longo que atende r, ou -1.
func match(routes []route, r *http.Request) int {
	best := -1
	for i, rt := range routes {
		if rt.method != "" && rt.method != r.Method {
			continue
		}
		if !strings.HasPrefix(r.URL.Path, rt.prefix) {
			continue
		}
		if best == -1 || len(rt.prefix) > len(routes[best].prefix) {
			best = i
		}
	}
	return best
}
