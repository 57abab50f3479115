package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{
		Path:        filepath.Join(t.TempDir(), "courier.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	return db
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name string
		rel  string
		wal  bool
	}{
		{"flat path", "courier.db", true},
		{"nested directory created", filepath.Join("a", "b", "courier.db"), true},
		{"rollback journal", "journal.db", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.rel)
			db, err := Open(context.Background(), Config{Path: path, WALMode: tt.wal, BusyTimeout: 1})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer db.Close() //nolint:errcheck // test cleanup

			if _, err := db.ExecContext(context.Background(), "CREATE TABLE t (x INTEGER)"); err != nil {
				t.Fatalf("write after Open: %v", err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("database file missing: %v", err)
			}
			if perm := info.Mode().Perm(); perm&0077 != 0 {
				t.Errorf("file mode = %v, want owner-only", perm)
			}

			var mode string
			if err := db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode); err != nil {
				t.Fatalf("journal_mode: %v", err)
			}
			if got := strings.EqualFold(mode, "wal"); got != tt.wal {
				t.Errorf("journal_mode = %q, WALMode = %v", mode, tt.wal)
			}
		})
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); !errors.Is(err, ErrPathRequired) {
		t.Errorf("Open() error = %v, want ErrPathRequired", err)
	}
}

func TestOpen_UnwritableDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), Config{Path: filepath.Join(blocker, "x.db")}); err == nil {
		t.Error("Open() should fail when the directory is a file")
	}
}

func TestConfig_DSN(t *testing.T) {
	dsn := Config{Path: "/var/lib/courier.db", WALMode: true, BusyTimeout: 5}.dsn()

	for _, want := range []string{"file:/var/lib/courier.db?", "_busy_timeout=5000", "_foreign_keys=on", "_journal_mode=WAL"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q missing %q", dsn, want)
		}
	}
	if dsn := (Config{Path: "x.db"}).dsn(); strings.Contains(dsn, "_journal_mode") {
		t.Errorf("dsn without WAL = %q", dsn)
	}
}

func TestHealthCheckAndSize(t *testing.T) {
	// Rollback journal, so writes land in the main file.
	db, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "size.db")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if _, err := db.ExecContext(context.Background(), "CREATE TABLE t (x BLOB)"); err != nil {
		t.Fatal(err)
	}
	if db.Size() <= 0 {
		t.Errorf("Size() = %d, want > 0", db.Size())
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after Close should fail")
	}
}

func TestSize_MissingFile(t *testing.T) {
	db := &DB{path: filepath.Join(t.TempDir(), "gone.db")}
	if got := db.Size(); got != 0 {
		t.Errorf("Size() = %d, want 0", got)
	}
}
