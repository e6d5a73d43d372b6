// Package migrations embeds the SQL schema applied at store open.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
