// Package builtin registers all built-in datasource drivers.
//
// Import this package to register the static, PostgreSQL, and SQLite
// providers:
//
//	import _ "github.com/electwix/db-navigator/internal/provider/builtin"
//
// This will make the drivers available via provider.New().
package builtin

import (
	"github.com/electwix/db-navigator/internal/provider"
	"github.com/electwix/db-navigator/internal/provider/postgres"
	"github.com/electwix/db-navigator/internal/provider/sqlite"
	"github.com/electwix/db-navigator/internal/provider/static"
)

//nolint:gochecknoinits // Package registration via init is idiomatic for this use case
func init() {
	RegisterAll()
}

// RegisterAll registers all built-in datasource drivers.
// This is called automatically on package import, but can also be called
// manually for testing or custom initialization.
func RegisterAll() {
	provider.Register("static", static.Factory)
	provider.Register("postgresql", postgres.Factory)
	provider.Register("postgres", postgres.Factory) // Alias
	provider.Register("sqlite", sqlite.Factory)
}
