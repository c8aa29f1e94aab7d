// Package migrations embeds the schema for both storage engines so the
// binary can migrate itself at startup.
package migrations

import "embed"

//go:embed postgres/*.sql
var Postgres embed.FS

//go:embed sqlite/*.sql
var SQLite embed.FS
