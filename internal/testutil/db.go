// Package testutil provisions a Postgres job store for integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DSNEnv points the tests at an already running database instead of a
// container.
const DSNEnv = "OMNIDRIVE_TEST_DSN"

type TestDB struct {
	DB      *sqlx.DB
	ConnStr string
}

// MigrationsDir returns the absolute path of the repository's migrations.
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// SetupTestDB returns a migrated jobs database. It uses DSNEnv when set and
// otherwise starts a postgres:15 container from the DB_* variables. The test
// is skipped when neither is available. Everything is released on cleanup.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := godotenv.Load(); err != nil {
		t.Logf("No .env file loaded: %v", err)
	}

	connStr := os.Getenv(DSNEnv)
	if connStr == "" {
		connStr = startContainer(ctx, t)
	}

	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close test db: %v", err)
		}
	})

	ping := func() error { return db.PingContext(ctx) }
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 20), ctx)
	if err := backoff.Retry(ping, policy); err != nil {
		t.Fatalf("test db not ready: %v", err)
	}

	m, err := migrate.New("file://"+filepath.ToSlash(MigrationsDir()), connStr)
	if err != nil {
		t.Fatalf("init migrations: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("apply migrations: %v", err)
	}
	m.Close()

	return &TestDB{DB: db, ConnStr: connStr}
}

func startContainer(ctx context.Context, t *testing.T) string {
	t.Helper()
	user, password := os.Getenv("DB_USERNAME"), os.Getenv("DB_PASSWORD")
	name, host := os.Getenv("DB_NAME"), os.Getenv("DB_HOST")
	if user == "" || password == "" || name == "" || host == "" {
		t.Skipf("%s or DB_USERNAME, DB_PASSWORD, DB_NAME and DB_HOST not set, skipping Postgres tests", DSNEnv)
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     user,
				"POSTGRES_PASSWORD": password,
				"POSTGRES_DB":       name,
			},
			WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Cannot start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Errorf("terminate container: %v", err)
		}
	})

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatal(err)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port.Port(), name)
}
