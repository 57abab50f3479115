// Package database opens the SQLite file that keeps in-flight flows and
// subscriptions across restarts, and migrates its schema.
//
// Migrations live in the migrations package as embedded
// YYYYMMDD_HHMMSS_name.up.sql / .down.sql pairs and are registered through
// MigrationsFS. They are additive: new columns are nullable or defaulted,
// nothing is dropped or renamed in an up migration. Applied versions are
// recorded in schema_migrations.
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Persistence.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// The file holds message payloads and is created owner-only (0600).
package database
