package memo

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Key monta a chave do cache: "memo/<nome>/<xxhash64 do JSON dos argumentos>".
//
// JSON ordena as chaves de map, então argumentos iguais geram a mesma chave.
func Key(name string, args ...any) (string, error) {
	if args == nil {
		args = []any{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("memo: encode args for %q: %w", name, err)
	}
	return "memo/" + name + "/" + strconv.FormatUint(xxhash.Sum64(b), 16), nil
}
