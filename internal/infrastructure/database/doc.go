// Package database opens the relational stores behind FleetLink Core.
//
// SQLite is the default: a single-writer connection with WAL mode, foreign
// keys on, and schema managed by versioned migrations embedded in the binary.
// PostgreSQL is available through OpenPostgres, which returns a pgx pool; the
// postgres device store creates its own schema.
//
// Usage:
//
//	db, err := database.Open(cfg.Database.SQLite)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and every .up.sql has a matching .down.sql.
package database
