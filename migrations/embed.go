// Package migrations embeds the SQL schema for durable session state.
//
// Importing this package (usually with a blank import) registers the
// session schema with the database package, so the binary can migrate
// without the .sql files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/courier-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
