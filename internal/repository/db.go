package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/homework-scanner/internal/common"
)

// Dialect selects SQL placeholder style and DDL.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ConfigFrom maps the database section of the app config.
func ConfigFrom(c common.DatabaseConfig) Config {
	return Config{
		DSN:             c.DSN,
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLifetime: c.MaxConnLifetime,
		MaxConnIdleTime: c.MaxConnIdleTime,
		DialTimeout:     c.DialTimeout,
	}
}

// DB is an open history database. Pool is nil for SQLite.
type DB struct {
	SQL     *sql.DB
	Pool    *pgxpool.Pool
	Dialect Dialect
}

// DialectFor picks the backend from the DSN. Anything that is not a postgres
// URL is treated as a SQLite path or URI.
func DialectFor(dsn string) Dialect {
	d := strings.ToLower(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// Open connects to the history database and creates missing tables.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DSN == "" {
		return nil, common.NewAppError(common.CodeConfig, "database dsn is empty", nil)
	}
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	dialect := DialectFor(cfg.DSN)
	logger.Info("db.connect", "dialect", dialect)

	var db *DB
	var err error
	switch dialect {
	case DialectPostgres:
		db, err = openPostgres(ctx, cfg)
	default:
		db, err = openSQLite(ctx, cfg)
	}
	if err != nil {
		logger.Error("db.connect_failed", "dialect", dialect, "error", err)
		return nil, fmt.Errorf("%w: %w", common.ErrDatabase, err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close(logger)
		logger.Error("db.migrate_failed", "error", err)
		return nil, fmt.Errorf("%w: %w", common.ErrDatabase, err)
	}
	logger.Info("db.connected", "dialect", dialect)
	return db, nil
}

func openPostgres(ctx context.Context, cfg Config) (*DB, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "homework-scanner"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &DB{SQL: stdlib.OpenDBFromPool(pool), Pool: pool, Dialect: DialectPostgres}, nil
}

func openSQLite(ctx context.Context, cfg Config) (*DB, error) {
	dsn := strings.TrimPrefix(cfg.DSN, "sqlite://")
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer avoids SQLITE_BUSY; an in-memory database also lives on a single connection.
	sqldb.SetMaxOpenConns(1)
	if _, err := sqldb.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return &DB{SQL: sqldb, Dialect: DialectSQLite}, nil
}

// Close closes the database connections gracefully
func (db *DB) Close(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.SQL.Close(); err != nil {
		logger.Error("db.close_failed", "error", err)
	}
	if db.Pool != nil {
		db.Pool.Close()
	}
	logger.Info("db.closed")
}

// HealthCheck pings the database within timeout.
func (db *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return db.SQL.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS scan_runs (
	id          TEXT PRIMARY KEY,
	started_at  BIGINT NOT NULL,
	finished_at BIGINT,
	items       INTEGER NOT NULL DEFAULT 0,
	succeeded   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	error       TEXT
);
CREATE TABLE IF NOT EXISTS solutions (
	id           TEXT PRIMARY KEY,
	run_id       TEXT,
	url          TEXT NOT NULL,
	file_name    TEXT NOT NULL,
	mime_type    TEXT NOT NULL,
	status       TEXT NOT NULL,
	ai_source_id TEXT,
	problems     TEXT NOT NULL,
	recorded_at  BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS solutions_run_id_idx ON solutions (run_id);
`

// Migrate creates the history tables when missing.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.SQL.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (db *DB) rebind(q string) string {
	if db.Dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
