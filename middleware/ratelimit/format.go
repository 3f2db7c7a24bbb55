// utilitário pequeno para formatação rápida/consistente de valores numéricos em headers.

package ratelimit

import (
	"strconv"
	"time"
)

func formatInt64(v int64) string { return strconv.FormatInt(v, 10) }

// retryAfterSeconds arredonda para cima e nunca devolve menos que 1.
func retryAfterSeconds(resetAt, now time.Time) int64 {
	d := resetAt.Sub(now)
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
