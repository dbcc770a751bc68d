// Package migrations embeds the SQLite schema for session checkpoints.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
