// Package migrations embeds the goose SQL migration set applied on startup.
package migrations

import "embed"

//go:embed sql/*.sql
var FS embed.FS
