// Package db embeds the service's goose migrations.
package db

import "embed"

// Migrations holds the SQL files under migrations/, applied by pg.Migrate.
//
//go:embed migrations/*.sql
var Migrations embed.FS
