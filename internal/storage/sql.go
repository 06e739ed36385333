package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const toggleSchema = `CREATE TABLE IF NOT EXISTS plugin_toggles (
	name TEXT PRIMARY KEY,
	enabled BOOLEAN NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// SQLStore persists toggles in SQLite or PostgreSQL.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore opens dsn with driver ("sqlite" or "postgres"), verifies the
// connection and creates the toggle table if needed.
func NewSQLStore(driver, dsn string, config *PoolConfig) (*SQLStore, error) {
	driver, err := normalizeDriver(driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPoolConfig()
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store, err := NewSQLStoreFromDB(ctx, db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStoreFromDB wraps an open database and runs the schema migration.
func NewSQLStoreFromDB(ctx context.Context, db *sql.DB, driver string) (*SQLStore, error) {
	driver, err := normalizeDriver(driver)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, toggleSchema); err != nil {
		return nil, fmt.Errorf("migrate plugin_toggles: %w", err)
	}
	return &SQLStore{db: db, driver: driver}, nil
}

func normalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pq":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported storage driver %q", driver)
	}
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Get(ctx context.Context, plugin string) (bool, bool, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT enabled FROM plugin_toggles WHERE name = ?`), plugin).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("get toggle %q: %w", plugin, err)
	}
	return enabled, true, nil
}

func (s *SQLStore) Set(ctx context.Context, plugin string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO plugin_toggles (name, enabled, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`),
		plugin, enabled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set toggle %q: %w", plugin, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, plugin string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM plugin_toggles WHERE name = ?`), plugin)
	if err != nil {
		return fmt.Errorf("delete toggle %q: %w", plugin, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete toggle %q: %w", plugin, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, enabled FROM plugin_toggles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list toggles: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		var enabled bool
		if err := rows.Scan(&name, &enabled); err != nil {
			return nil, fmt.Errorf("scan toggle: %w", err)
		}
		out[name] = enabled
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list toggles: %w", err)
	}
	return out, nil
}

// Close releases database resources.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
