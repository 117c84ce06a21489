package database

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBuildPostgresDSNDefaults(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User: "robotdesk",
		Name: "robotdesk",
	})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}

	expected := "host=localhost port=5432 user=robotdesk dbname=robotdesk connect_timeout=10 sslmode=disable"
	if dsn != expected {
		t.Fatalf("expected %q, got %q", expected, dsn)
	}
}

func TestBuildPostgresDSNWithOptions(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "user",
		Name:     "db",
		Host:     "db.example.com",
		Port:     6543,
		Password: "pass",
		Options: map[string]string{
			"sslmode":     "require",
			"search_path": "public",
		},
	})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}

	if !containsAll(
		dsn,
		"host=db.example.com",
		"port=6543",
		"user=user",
		"dbname=db",
		"password=pass",
		"sslmode=require",
		"search_path=public",
	) {
		t.Fatalf("dsn missing expected components: %q", dsn)
	}
}

func TestBuildPostgresDSNRequiresUserAndName(t *testing.T) {
	if _, err := buildPostgresDSN(Config{}); err == nil {
		t.Fatalf("expected error for missing credentials")
	}
}

func TestBuildMySQLDSNDefaults(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User: "robotdesk",
		Name: "robotdesk",
	})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}

	expected := "robotdesk@tcp(127.0.0.1:3306)/robotdesk?charset=utf8mb4&loc=UTC&parseTime=True&timeout=10s"
	if dsn != expected {
		t.Fatalf("expected %q, got %q", expected, dsn)
	}
}

func TestBuildMySQLDSNWithOptions(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User:     "user",
		Password: "secret",
		Name:     "db",
		Host:     "db.example.com",
		Port:     3307,
		Options: map[string]string{
			"tls": "skip-verify",
		},
	})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}

	if !containsAll(
		dsn,
		"user:secret@tcp(db.example.com:3307)/db?",
		"charset=utf8mb4",
		"loc=UTC",
		"parseTime=True",
		"timeout=10s",
		"tls=skip-verify",
	) {
		t.Fatalf("dsn missing expected components: %q", dsn)
	}
}

func TestBuildMySQLDSNRequiresUserAndName(t *testing.T) {
	if _, err := buildMySQLDSN(Config{Host: "localhost"}); err == nil {
		t.Fatalf("expected error for missing credentials")
	}
}

func TestBuildMySQLDSNOptionsOverrideDefaults(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User:    "user",
		Name:    "db",
		Options: map[string]string{"loc": "Local", "timeout": "3s"},
	})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}
	if !containsAll(dsn, "loc=Local", "timeout=3s") || strings.Contains(dsn, "loc=UTC") {
		t.Fatalf("options did not override defaults: %q", dsn)
	}
}

func TestBuildSQLiteDSN(t *testing.T) {
	dsn, err := buildSQLiteDSN(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}
	if dsn != "file::memory:?cache=shared&_foreign_keys=1" {
		t.Fatalf("unexpected memory dsn %q", dsn)
	}

	path := filepath.Join(t.TempDir(), "nested", "desk.sqlite")
	dsn, err = buildSQLiteDSN(Config{Path: path})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}
	if !containsAll(dsn, "_journal_mode=WAL", "_busy_timeout=5000", "_foreign_keys=1") {
		t.Fatalf("file dsn missing pragmas: %q", dsn)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("expected sqlite directory to be created: %v", err)
	}
}

func TestPoolDefaults(t *testing.T) {
	pool := Pool{}.withDefaults(postgresDialect.pool)
	if pool.MaxOpenConns != 25 || pool.MaxIdleConns != 5 || pool.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("unexpected postgres pool %+v", pool)
	}

	pool = Pool{MaxOpenConns: 4, MaxIdleConns: 10}.withDefaults(mysqlDialect.pool)
	if pool.MaxOpenConns != 4 || pool.MaxIdleConns != 4 {
		t.Fatalf("idle connections must not exceed open ones: %+v", pool)
	}
	if pool.ConnMaxLifetime != 5*time.Minute {
		t.Fatalf("unexpected mysql lifetime %v", pool.ConnMaxLifetime)
	}
}

func TestOpenSizesSQLitePool(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "pool.sqlite")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	if got := sqlDB.Stats().MaxOpenConnections; got != 1 {
		t.Fatalf("expected a single sqlite connection, got %d", got)
	}
}

func containsAll(value string, parts ...string) bool {
	for _, part := range parts {
		if !strings.Contains(value, part) {
			return false
		}
	}
	return true
}
