// Package migrations embeds the analytical store schema DDL.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
