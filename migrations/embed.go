// Package migrations embeds the SQL migration files for the server database.
package migrations

import "embed"

// FS contains all goose migration files.
//
//go:embed *.sql
var FS embed.FS
