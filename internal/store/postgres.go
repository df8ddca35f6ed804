package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig holds connection parameters for the Postgres-backed
// Store, mirroring the teacher's CockroachConfig shape.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "magi",
		Database:        "magi",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// PostgresStore implements Store as a single key/value table, treating
// the relational database as a narrow KV-like store (spec §1).
type PostgresStore struct {
	db *sql.DB

	stmtGet    *sql.Stmt
	stmtUpsert *sql.Stmt
	stmtDelete *sql.Stmt
	stmtKeys   *sql.Stmt
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS magi_kv (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// NewPostgresStore opens a connection and prepares statements.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	return NewPostgresStoreFromDSN(dsn, cfg)
}

func NewPostgresStoreFromDSN(dsn string, cfg *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("store: dsn is required")
	}
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if _, err := db.Exec(createTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create table: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.prepareStatements(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) prepareStatements() error {
	var err error
	if s.stmtGet, err = s.db.Prepare(`SELECT value FROM magi_kv WHERE key = $1`); err != nil {
		return fmt.Errorf("store: prepare get: %w", err)
	}
	if s.stmtUpsert, err = s.db.Prepare(`
		INSERT INTO magi_kv (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`); err != nil {
		return fmt.Errorf("store: prepare upsert: %w", err)
	}
	if s.stmtDelete, err = s.db.Prepare(`DELETE FROM magi_kv WHERE key = $1`); err != nil {
		return fmt.Errorf("store: prepare delete: %w", err)
	}
	if s.stmtKeys, err = s.db.Prepare(`SELECT key FROM magi_kv WHERE key LIKE $1`); err != nil {
		return fmt.Errorf("store: prepare keys: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.stmtGet.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %q: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.stmtUpsert.ExecContext(ctx, key, value); err != nil {
		return fmt.Errorf("store: put %q: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.stmtDelete.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.stmtKeys.QueryContext(ctx, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("store: keys %q: %w", prefix, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
