package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// KeyFunc extrai uma string da requisição (scope do cliente ou nome da rota).
// String vazia significa "não sei"; FirstKey passa para a próxima.
type KeyFunc func(r *http.Request) string

// FirstKey devolve o primeiro valor não vazio de fns, ou "unknown".
func FirstKey(fns ...KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			if v := fn(r); v != "" {
				return v
			}
		}
		return "unknown"
	}
}

// HeaderKey lê o scope de um header, como o uid vindo do proxy de sessão.
func HeaderKey(name string) KeyFunc {
	return func(r *http.Request) string {
		if name == "" {
			return ""
		}
		return strings.TrimSpace(r.Header.Get(name))
	}
}

// ForwardedKey usa o último hop do X-Forwarded-For, o que o nosso proxy anexou.
func ForwardedKey(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return ""
	}
	hop := xff
	if i := strings.LastIndexByte(xff, ','); i >= 0 {
		hop = xff[i+1:]
	}
	return clientAddr(strings.TrimSpace(hop))
}

func RemoteKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return clientAddr(addr)
}

// clientAddr agrupa IPv6 por /64: um host costuma ter a sub-rede inteira.
// Endereços que não parseiam voltam como vieram.
func clientAddr(s string) string {
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return s
	}
	ip = ip.Unmap()
	if ip.Is4() {
		return ip.String()
	}
	return netip.PrefixFrom(ip, 64).Masked().String()
}

// DefaultKeyFunc: header configurado, X-Forwarded-For se confiável, RemoteAddr.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	fns := []KeyFunc{HeaderKey(keyHeader)}
	if trustXFF {
		fns = append(fns, ForwardedKey)
	}
	return FirstKey(append(fns, RemoteKey)...)
}

// PatternKeyFunc usa o padrão de rota do ServeMux como endpoint.
func PatternKeyFunc(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.Method + " " + r.URL.Path
}
