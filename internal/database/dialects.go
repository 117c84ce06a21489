package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// connectTimeout applies to server databases unless the DSN options name their own.
const connectTimeout = 10 * time.Second

// sqliteBusyTimeout is how long a writer waits for the file lock. Verification writes are
// short compare-and-swap updates, so contention clears quickly.
const sqliteBusyTimeout = 5 * time.Second

type dialect struct {
	name      string
	dialector func(Config) (gorm.Dialector, error)
	pool      Pool
	afterOpen func(*gorm.DB) error
}

// sqlite serialises writers anyway, so its pool holds a single connection. MySQL connections are
// recycled ahead of the server's idle wait_timeout.
var dialects = map[string]dialect{
	"sqlite": {
		name:      "sqlite",
		dialector: sqliteDialector,
		pool:      Pool{MaxOpenConns: 1, MaxIdleConns: 1},
		afterOpen: enableForeignKeys,
	},
	"postgres":   postgresDialect,
	"postgresql": postgresDialect,
	"mysql":      mysqlDialect,
	"mariadb":    mysqlDialect,
}

var (
	postgresDialect = dialect{
		name:      "postgres",
		dialector: func(cfg Config) (gorm.Dialector, error) { return dsnDialector(cfg, buildPostgresDSN, postgres.Open) },
		pool:      Pool{MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: 30 * time.Minute},
	}
	mysqlDialect = dialect{
		name:      "mysql",
		dialector: func(cfg Config) (gorm.Dialector, error) { return dsnDialector(cfg, buildMySQLDSN, mysql.Open) },
		pool:      Pool{MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute},
	}
)

func dsnDialector(cfg Config, build func(Config) (string, error), open func(string) gorm.Dialector) (gorm.Dialector, error) {
	dsn, err := build(cfg)
	if err != nil {
		return nil, err
	}
	return open(dsn), nil
}

func sqliteDialector(cfg Config) (gorm.Dialector, error) {
	dsn, err := buildSQLiteDSN(cfg)
	if err != nil {
		return nil, err
	}
	return sqlite.Open(dsn), nil
}

func buildSQLiteDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" || strings.EqualFold(path, ":memory:") {
		return "file::memory:?cache=shared&_foreign_keys=1", nil
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	return fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=%d",
		filepath.ToSlash(path), sqliteBusyTimeout.Milliseconds()), nil
}

func enableForeignKeys(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}

func buildPostgresDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("postgres configuration requires user and database name")
	}

	params := []string{
		"host=" + orDefault(cfg.Host, "localhost"),
		fmt.Sprintf("port=%d", portOrDefault(cfg.Port, 5432)),
		"user=" + cfg.User,
		"dbname=" + cfg.Name,
	}
	if cfg.Password != "" {
		params = append(params, "password="+cfg.Password)
	}

	options := withOptions(map[string]string{
		"sslmode":         "disable",
		"connect_timeout": fmt.Sprintf("%d", int(connectTimeout.Seconds())),
	}, cfg.Options)
	for _, key := range sortedKeys(options) {
		params = append(params, key+"="+options[key])
	}
	return strings.Join(params, " "), nil
}

func buildMySQLDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("mysql configuration requires user and database name")
	}

	user := cfg.User
	if cfg.Password != "" {
		user += ":" + cfg.Password
	}

	// Expiry windows are computed against stored timestamps, so the session stays on UTC.
	options := withOptions(map[string]string{
		"charset":   "utf8mb4",
		"parseTime": "True",
		"loc":       "UTC",
		"timeout":   connectTimeout.String(),
	}, cfg.Options)
	pairs := make([]string, 0, len(options))
	for _, key := range sortedKeys(options) {
		pairs = append(pairs, key+"="+options[key])
	}

	return fmt.Sprintf("%s@tcp(%s:%d)/%s?%s", user, orDefault(cfg.Host, "127.0.0.1"), portOrDefault(cfg.Port, 3306),
		cfg.Name, strings.Join(pairs, "&")), nil
}

func withOptions(defaults, overrides map[string]string) map[string]string {
	for key, value := range overrides {
		defaults[key] = value
	}
	return defaults
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func portOrDefault(port, fallback int) int {
	if port == 0 {
		return fallback
	}
	return port
}
