package migrations

import "embed"

// FS contains embedded SQLite migrations for the host and account tables.
//
//go:embed *.sql
var FS embed.FS
