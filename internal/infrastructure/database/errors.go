package database

import "errors"

var (
	// ErrPathRequired is returned by Open when no database path is configured.
	ErrPathRequired = errors.New("database: path is required")

	// ErrMigrationNotFound is returned by Rollback when the latest applied
	// version has no file to roll back with.
	ErrMigrationNotFound = errors.New("database: migration not found")

	// ErrNothingToRollback is returned by Rollback on an unmigrated database.
	ErrNothingToRollback = errors.New("database: no applied migrations")
)
