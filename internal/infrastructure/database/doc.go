// Package database provides SQL connectivity for Gray Logic Auth.
//
// This package manages:
//   - SQLite connections (mattn/go-sqlite3) with WAL mode and foreign keys
//   - PostgreSQL connections through the pgx stdlib driver
//   - Per-dialect schema migrations embedded in the binary
//   - A gorm handle sharing the same connection pool
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - SQLite database file permissions are set to 0600 (owner read/write only)
//   - Auto-login tokens are stored as SHA-256 hashes, never raw
//
// Performance Characteristics:
//   - WAL mode allows concurrent reads during writes
//   - Busy timeout prevents lock contention errors
//   - SQLite uses a single connection; PostgreSQL a bounded pool
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Driver: "sqlite", Path: "./data/auth.db"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	orm, err := db.ORM(logger)
//
// Queries passed to ExecContext, QueryContext and QueryRowContext are written
// with ? placeholders and rebound to $n for PostgreSQL.
//
// Migration Strategy:
//
// Migrations live in one directory per dialect (sqlite/, postgres/) and must
// stay in step: every version present in one dialect exists in the other.
// Each migration file has both .up.sql and .down.sql.
package database
