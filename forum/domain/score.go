package domain

import (
	"database/sql/driver"
	"fmt"
	"strconv"
)

// Score é o score persistido de um usuário: desconhecido (precisa recalcular)
// ou conhecido com um valor, que pode ser 0 ou negativo.
type Score struct {
	value int64
	known bool
}

func UnknownScore() Score { return Score{} }

func KnownScore(v int64) Score { return Score{value: v, known: true} }

func (s Score) Value() (int64, bool) { return s.value, s.known }

func (s Score) IsKnown() bool { return s.known }

func (s Score) String() string {
	if !s.known {
		return "unknown"
	}
	return fmt.Sprintf("%d", s.value)
}

// Scan mapeia NULL para UnknownScore.
func (s *Score) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = UnknownScore()
	case int64:
		*s = KnownScore(v)
	case int:
		*s = KnownScore(int64(v))
	case []byte:
		return s.Scan(string(v))
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("domain: scan score %q: %w", v, err)
		}
		*s = KnownScore(n)
	default:
		return fmt.Errorf("domain: cannot scan %T into Score", src)
	}
	return nil
}

// Valuer adapta Score para parâmetro de query; UnknownScore vira NULL.
// Score não implementa driver.Valuer direto porque Value já devolve (int64, bool).
func (s Score) Valuer() driver.Valuer { return scoreValuer(s) }

type scoreValuer Score

func (v scoreValuer) Value() (driver.Value, error) {
	if !v.known {
		return nil, nil
	}
	return v.value, nil
}
