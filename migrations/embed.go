// Package migrations embeds SQL migration files into the binary.
//
// Each dialect has its own directory (sqlite/, postgres/). The database
// package picks the one matching the open connection.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-auth/internal/infrastructure/database"
)

//go:embed sqlite/*.sql postgres/*.sql
var migrationsFS embed.FS

func init() {
	// Register embedded migrations with the database package.
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Dialect directories are at root of embedded FS
}
