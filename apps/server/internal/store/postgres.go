package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"putting-live/apps/server/internal/config"
)

type Postgres struct {
	*sqlStore
}

// OpenPostgresDB opens a pooled connection and pings it.
func OpenPostgresDB(dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("empty postgres dsn")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), config.DBCall)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewPostgres connects and verifies that the schema has been migrated.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := OpenPostgresDB(dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DBCall)
	defer cancel()
	var schemaReady bool
	if err := db.QueryRowContext(ctx, `
SELECT EXISTS (
    SELECT 1
    FROM information_schema.tables
    WHERE table_schema = 'public'
      AND table_name = 'competition_games'
)`).Scan(&schemaReady); err != nil {
		_ = db.Close()
		return nil, err
	}
	if !schemaReady {
		_ = db.Close()
		return nil, fmt.Errorf("contest schema not initialized: missing table competition_games (run the migrate command)")
	}

	return &Postgres{sqlStore: &sqlStore{
		db:       db,
		rebind:   dollarPlaceholders,
		isUnique: isUniqueViolation,
	}}, nil
}

func (s *Postgres) DB() *sql.DB {
	return s.db
}

// MigratePostgres creates the contest tables when they are missing.
func MigratePostgres(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS competition_games (
    competition_id BIGINT PRIMARY KEY,
    status TEXT NOT NULL,
    current_level INTEGER NOT NULL DEFAULT 1,
    current_turn_id BIGINT,
    winner_id BIGINT,
    started_at_ms BIGINT NOT NULL DEFAULT 0,
    finished_at_ms BIGINT NOT NULL DEFAULT 0,
    updated_at_ms BIGINT NOT NULL DEFAULT 0
)`,
		`
CREATE TABLE IF NOT EXISTS checkins (
    id BIGSERIAL PRIMARY KEY,
    competition_id BIGINT NOT NULL,
    player_id BIGINT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    prize_won SMALLINT NOT NULL DEFAULT 0,
    created_at_ms BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_checkins_competition ON checkins(competition_id, id)`,
		`
CREATE TABLE IF NOT EXISTS final_game_participants (
    id BIGSERIAL PRIMARY KEY,
    competition_id BIGINT NOT NULL,
    player_id BIGINT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    seat INTEGER NOT NULL,
    last_level INTEGER NOT NULL DEFAULT 0,
    last_result TEXT NOT NULL DEFAULT '',
    created_at_ms BIGINT NOT NULL,
    UNIQUE (competition_id, player_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_final_game_participants_seat ON final_game_participants(competition_id, seat)`,
		`
CREATE TABLE IF NOT EXISTS putting_attempts (
    id BIGSERIAL PRIMARY KEY,
    competition_id BIGINT NOT NULL,
    participant_id BIGINT NOT NULL,
    level INTEGER NOT NULL,
    result TEXT NOT NULL,
    outcome TEXT NOT NULL,
    created_at_ms BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_putting_attempts_competition ON putting_attempts(competition_id, id DESC)`,
		`
CREATE TABLE IF NOT EXISTS ephemeral_kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at_ms BIGINT NOT NULL
)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
