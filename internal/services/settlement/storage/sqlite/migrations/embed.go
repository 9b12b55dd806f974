package migrations

import "embed"

// FS contains embedded SQLite migrations for settlement storage.
//
//go:embed *.sql
var FS embed.FS
