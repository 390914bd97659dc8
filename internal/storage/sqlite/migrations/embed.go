package migrations

import "embed"

// FS contains the embedded fleet schema migrations.
//
//go:embed *.sql
var FS embed.FS
