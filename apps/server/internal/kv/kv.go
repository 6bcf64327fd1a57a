// Package kv is the ephemeral key-value store that holds draw state.
// Values are opaque strings, overwritten wholesale, with no expiry.
package kv

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"putting-live/apperr"
	"putting-live/apps/server/internal/config"
)

type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Memory keeps the most recently written keys in an LRU.
type Memory struct {
	cache *lru.Cache[string, string]
}

func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &Memory{cache: cache}, nil
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.cache.Get(key)
	return v, ok, nil
}

func (m *Memory) Put(_ context.Context, key, value string) error {
	m.cache.Add(key, value)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.cache.Remove(key)
	return nil
}

// SQL stores keys in the ephemeral_kv table of a sqlite or postgres database.
type SQL struct {
	db       *sql.DB
	postgres bool
}

// NewSQLite creates the table if needed and shares db with the state store.
func NewSQLite(db *sql.DB) (*SQL, error) {
	ctx, cancel := context.WithTimeout(context.Background(), config.DBCall)
	defer cancel()
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS ephemeral_kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at_ms INTEGER NOT NULL
)`); err != nil {
		return nil, err
	}
	return &SQL{db: db}, nil
}

// NewPostgres expects the table to exist already (see store.MigratePostgres).
func NewPostgres(db *sql.DB) *SQL {
	return &SQL{db: db, postgres: true}
}

func (s *SQL) q(sqlite, postgres string) string {
	if s.postgres {
		return postgres
	}
	return sqlite
}

func (s *SQL) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, config.DBCall)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT value FROM ephemeral_kv WHERE key = ?`,
		`SELECT value FROM ephemeral_kv WHERE key = $1`,
	), key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Persistence("kv get", err)
	}
	return value, true, nil
}

func (s *SQL) Put(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, config.DBCall)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO ephemeral_kv (key, value, updated_at_ms) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at_ms = excluded.updated_at_ms
`, `
INSERT INTO ephemeral_kv (key, value, updated_at_ms) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at_ms = excluded.updated_at_ms
`), key, value, time.Now().UTC().UnixMilli())
	return apperr.Persistence("kv put", err)
}

func (s *SQL) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, config.DBCall)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.q(
		`DELETE FROM ephemeral_kv WHERE key = ?`,
		`DELETE FROM ephemeral_kv WHERE key = $1`,
	), key)
	return apperr.Persistence("kv delete", err)
}

// Open picks the backend matching the state store. db is the state store's
// handle for the sqlite and postgres modes and is ignored for memory.
func Open(cfg config.Config, db *sql.DB) (Store, error) {
	switch config.NormalizeStoreMode(cfg.StoreMode) {
	case config.StoreModeMemory:
		return NewMemory(cfg.KVCacheSize)
	case config.StoreModeSQLite:
		if db == nil {
			return nil, fmt.Errorf("sqlite kv requires a database handle")
		}
		return NewSQLite(db)
	case config.StoreModePostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres kv requires a database handle")
		}
		return NewPostgres(db), nil
	default:
		return nil, fmt.Errorf("invalid store mode %q", cfg.StoreMode)
	}
}
