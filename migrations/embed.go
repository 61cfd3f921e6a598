// Package migrations embeds all SQL migration files so the binary is
// self-contained and runs correctly from any working directory.
package migrations

import "embed"

// FS contains all *.sql migration files embedded at compile time.
//
//go:embed *.sql
var FS embed.FS
