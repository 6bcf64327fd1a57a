package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"putting-live/apps/server/internal/config"
)

type SQLite struct {
	*sqlStore
}

// OpenSQLiteDB opens a local database with the pragmas every sqlite-backed
// component of the server relies on.
func OpenSQLiteDB(dbPath string) (*sql.DB, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("empty sqlite database path")
	}
	if dbPath != ":memory:" {
		parent := filepath.Dir(dbPath)
		if parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), config.DBCall)
	defer cancel()
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := OpenSQLiteDB(dbPath)
	if err != nil {
		return nil, err
	}
	return NewSQLiteWithDB(db)
}

// NewSQLiteWithDB wraps an already opened database and ensures the schema.
func NewSQLiteWithDB(db *sql.DB) (*SQLite, error) {
	ctx, cancel := context.WithTimeout(context.Background(), config.DBCall)
	defer cancel()
	if err := ensureSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{sqlStore: &sqlStore{
		db:       db,
		rebind:   identity,
		isUnique: isSQLiteUniqueViolation,
	}}, nil
}

// DB exposes the handle so the ephemeral store can share the same file.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func ensureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS competition_games (
    competition_id INTEGER PRIMARY KEY,
    status TEXT NOT NULL,
    current_level INTEGER NOT NULL DEFAULT 1,
    current_turn_id INTEGER,
    winner_id INTEGER,
    started_at_ms INTEGER NOT NULL DEFAULT 0,
    finished_at_ms INTEGER NOT NULL DEFAULT 0,
    updated_at_ms INTEGER NOT NULL DEFAULT 0
)`,
		`
CREATE TABLE IF NOT EXISTS checkins (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    competition_id INTEGER NOT NULL,
    player_id INTEGER NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    prize_won INTEGER NOT NULL DEFAULT 0,
    created_at_ms INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_checkins_competition ON checkins(competition_id, id)`,
		`
CREATE TABLE IF NOT EXISTS final_game_participants (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    competition_id INTEGER NOT NULL,
    player_id INTEGER NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    seat INTEGER NOT NULL,
    last_level INTEGER NOT NULL DEFAULT 0,
    last_result TEXT NOT NULL DEFAULT '',
    created_at_ms INTEGER NOT NULL,
    UNIQUE (competition_id, player_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_final_game_participants_seat ON final_game_participants(competition_id, seat)`,
		`
CREATE TABLE IF NOT EXISTS putting_attempts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    competition_id INTEGER NOT NULL,
    participant_id INTEGER NOT NULL,
    level INTEGER NOT NULL,
    result TEXT NOT NULL,
    outcome TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_putting_attempts_competition ON putting_attempts(competition_id, id DESC)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func isSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
