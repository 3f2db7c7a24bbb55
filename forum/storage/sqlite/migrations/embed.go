package migrations

import "embed"

// FS contém as migrations SQLite do fórum.
//
//go:embed *.sql
var FS embed.FS
