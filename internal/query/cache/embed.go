package cache

import "embed"

// MigrationFS embeds the cache database's schema, so the binary never
// depends on SQL files existing on disk next to it.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
