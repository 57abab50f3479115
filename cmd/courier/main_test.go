package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/courier-core/internal/infrastructure/config"
	"github.com/nerrad567/courier-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/courier-core/internal/persistence"
)

const testJWTSecret = "test-secret-for-development-only-0123456789"

// writeConfig writes a YAML config to a temp dir and returns its path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// sqliteConfig returns a config using the sqlite backend at dbPath.
func sqliteConfig(t *testing.T, dbPath string) string {
	t.Helper()
	return writeConfig(t, `
broker:
  url: "tcp://127.0.0.1:1"
  connect_timeout: 1
auth:
  client_id: "cli-test"
reconnect:
  enabled: false
persistence:
  backend: sqlite
  path: "`+dbPath+`"
network:
  watch: false
logging:
  level: error
  format: text
api:
  jwt:
    secret: "`+testJWTSecret+`"
`)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("COURIER_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.toml"
	t.Setenv("COURIER_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_UnopenableDatabase(t *testing.T) {
	// A regular file where the database directory should be.
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, sqliteConfig(t, filepath.Join(blocker, "courier.db")))
	if err == nil || !strings.Contains(err.Error(), "opening database") {
		t.Fatalf("run() error = %v, want opening database failure", err)
	}
}

func TestRun_BrokerUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, sqliteConfig(t, filepath.Join(t.TempDir(), "courier.db")))
	if !errors.Is(err, mqtt.ErrConnectionFailed) {
		t.Fatalf("run() error = %v, want ErrConnectionFailed", err)
	}
}

func TestOpenStores(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := config.Default()
		st, err := openStores(ctx, cfg)
		if err != nil {
			t.Fatalf("openStores: %v", err)
		}
		defer st.Close()
		if st.db != nil || st.flows.Persistent() {
			t.Error("memory backend opened a database")
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := config.Default()
		cfg.Persistence.Backend = "sqlite"
		cfg.Persistence.Path = filepath.Join(t.TempDir(), "sub", "courier.db")

		st, err := openStores(ctx, cfg)
		if err != nil {
			t.Fatalf("openStores: %v", err)
		}
		defer st.Close()
		if st.db == nil || !st.flows.Persistent() {
			t.Fatal("sqlite backend did not open a durable store")
		}
		if err := st.subs.Subscribe(ctx, "c", persistence.Subscription{Topic: "a/#", QoS: 1}); err != nil {
			t.Errorf("subscription store not migrated: %v", err)
		}
		held := persistence.IncomingMessage{ID: "m1", ClientID: "c", Topic: "a/b", QoS: 1}
		if err := st.incoming.Save(ctx, held); err != nil {
			t.Errorf("incoming store not migrated: %v", err)
		}
	})
}

func TestFlowsListAndPurge(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "courier.db")
	cfgPath := sqliteConfig(t, dbPath)

	// Seed the store the way a crashed daemon would leave it.
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	st, err := openStores(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStores: %v", err)
	}
	err = st.flows.Record(context.Background(), persistence.Flow{
		ClientID:  "cli-test",
		MessageID: 42,
		Direction: persistence.Outgoing,
		Command:   persistence.CommandPublish,
		Topic:     "sensors/temp",
		Payload:   []byte("21.5"),
		QoS:       1,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	st.Close()

	out, err := execute(t, "flows", "list", "--config", cfgPath)
	if err != nil {
		t.Fatalf("flows list: %v", err)
	}
	if !strings.Contains(out, "sensors/temp") || !strings.Contains(out, "1 flow(s)") {
		t.Errorf("flows list output:\n%s", out)
	}

	out, err = execute(t, "flows", "list", "--config", cfgPath, "--client-id", "other")
	if err != nil {
		t.Fatalf("flows list: %v", err)
	}
	if !strings.Contains(out, "0 flow(s)") {
		t.Errorf("flows list for another client:\n%s", out)
	}

	if _, err := execute(t, "flows", "purge", "--config", cfgPath); err != nil {
		t.Fatalf("flows purge: %v", err)
	}
	out, err = execute(t, "flows", "list", "--config", cfgPath)
	if err != nil {
		t.Fatalf("flows list: %v", err)
	}
	if !strings.Contains(out, "0 flow(s)") {
		t.Errorf("flows survived purge:\n%s", out)
	}
}

func TestFlows_MemoryBackend(t *testing.T) {
	cfgPath := writeConfig(t, "logging:\n  level: error\n")

	if _, err := execute(t, "flows", "list", "--config", cfgPath); !errors.Is(err, ErrNoDurableStore) {
		t.Errorf("flows list error = %v, want ErrNoDurableStore", err)
	}
}

func TestToken(t *testing.T) {
	cfgPath := sqliteConfig(t, filepath.Join(t.TempDir(), "courier.db"))

	out, err := execute(t, "token", "--config", cfgPath, "--subject", "ci", "--ttl", "1m")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimSpace(out), claims, func(_ *jwt.Token) (any, error) {
		return []byte(testJWTSecret), nil
	})
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Subject != "ci" || claims.Issuer != "courier" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestToken_NoSecret(t *testing.T) {
	cfgPath := writeConfig(t, "logging:\n  level: error\n")

	if _, err := execute(t, "token", "--config", cfgPath); err == nil {
		t.Error("token should fail without api.jwt.secret")
	}
}

func TestPublish_InvalidQoS(t *testing.T) {
	if _, err := execute(t, "publish", "a/b", "x", "--qos", "3"); !errors.Is(err, mqtt.ErrInvalidQoS) {
		t.Errorf("publish error = %v, want ErrInvalidQoS", err)
	}
}

func TestPublish_BrokerUnreachable(t *testing.T) {
	cfgPath := sqliteConfig(t, filepath.Join(t.TempDir(), "courier.db"))

	if _, err := execute(t, "publish", "a/b", "x", "--config", cfgPath); !errors.Is(err, mqtt.ErrConnectionFailed) {
		t.Errorf("publish error = %v, want ErrConnectionFailed", err)
	}
}

func TestDB_StatusAndRollback(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "courier.db")
	cfgPath := sqliteConfig(t, dbPath)

	out, err := execute(t, "db", "status", "--config", cfgPath)
	if err != nil {
		t.Fatalf("db status: %v", err)
	}
	if !strings.Contains(out, "flows") || !strings.Contains(out, "pending") {
		t.Errorf("db status before migrate:\n%s", out)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	st, err := openStores(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	st.Close()

	out, err = execute(t, "db", "status", "--config", cfgPath)
	if err != nil {
		t.Fatalf("db status: %v", err)
	}
	if strings.Contains(out, "pending") {
		t.Errorf("db status after migrate:\n%s", out)
	}

	if _, err := execute(t, "db", "rollback", "--config", cfgPath); err == nil {
		t.Error("rollback without --yes should fail")
	}
	out, err = execute(t, "db", "rollback", "--yes", "--config", cfgPath)
	if err != nil {
		t.Fatalf("db rollback: %v", err)
	}
	if !strings.Contains(out, "incoming_messages") {
		t.Errorf("rolled back the wrong migration:\n%s", out)
	}
}
