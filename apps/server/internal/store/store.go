// Package store persists the canonical contest state: the final-game roster,
// the per-competition game row, check-ins and the attempt journal.
package store

import (
	"context"
	"fmt"
	"time"

	"putting-live/apperr"
	"putting-live/apps/server/internal/config"
	"putting-live/draw"
	"putting-live/putting"
)

var (
	ErrCheckinNotFound     = apperr.NotFound("Check-in not found")
	ErrParticipantNotFound = apperr.NotFound("Participant not found")
	ErrAlreadyInRoster     = apperr.State(apperr.CodeAlreadyInRoster, "player is already in the final game")
	ErrRosterFull          = apperr.State(apperr.CodeRosterFull, "final game roster is full")
)

// Store is the canonical state contract consumed by the contest service.
type Store interface {
	Participants(ctx context.Context, competitionID int64) ([]putting.Participant, error)
	// GameState returns putting.NotStarted when the competition has no game row.
	GameState(ctx context.Context, competitionID int64) (putting.GameState, error)
	// ApplyOutcome writes one transition atomically. The write only lands when
	// the stored turn still equals out.ExpectedTurnID; otherwise it fails with
	// putting.ErrNotCurrentTurn (or putting.ErrNotRunning) and nothing changes.
	ApplyOutcome(ctx context.Context, competitionID int64, out putting.Outcome) error
	// SaveGameStart rewrites the game row and resets every listed participant.
	SaveGameStart(ctx context.Context, state putting.GameState, participants []putting.Participant) error

	Checkins(ctx context.Context, competitionID int64) ([]draw.Checkin, error)
	CreateCheckin(ctx context.Context, competitionID, playerID int64, name string) (draw.Checkin, error)
	MarkPrizeWon(ctx context.Context, checkinID int64) error

	ConfirmEntrant(ctx context.Context, competitionID, checkinID int64, rosterSize int) (putting.Participant, error)
	RemoveEntrant(ctx context.Context, competitionID, participantID int64) error

	Attempts(ctx context.Context, competitionID int64, limit int) ([]putting.AttemptRecord, error)
	Close() error
}

const (
	defaultAttemptLimit = 100
	maxAttemptLimit     = 1000
)

// Open builds the store selected by cfg.StoreMode.
func Open(cfg config.Config) (Store, string, error) {
	mode := config.NormalizeStoreMode(cfg.StoreMode)
	switch mode {
	case config.StoreModeMemory:
		return NewMemory(), mode, nil
	case config.StoreModeSQLite:
		path, err := cfg.SQLitePath()
		if err != nil {
			return nil, mode, err
		}
		s, err := NewSQLite(path)
		if err != nil {
			return nil, mode, err
		}
		return s, mode, nil
	case config.StoreModePostgres:
		s, err := NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, mode, err
		}
		return s, mode, nil
	default:
		return nil, mode, fmt.Errorf("invalid store mode %q", mode)
	}
}

// checkConfirm applies the roster rules shared by every backend.
func checkConfirm(state putting.GameState, roster []putting.Participant, checkin draw.Checkin, rosterSize int) error {
	if err := putting.CheckRosterEditable(state); err != nil {
		return err
	}
	for _, p := range roster {
		if p.PlayerID == checkin.PlayerID {
			return ErrAlreadyInRoster
		}
	}
	if rosterSize <= 0 {
		rosterSize = putting.DefaultRosterSize
	}
	if len(roster) >= rosterSize {
		return ErrRosterFull
	}
	return nil
}

// checkTurn reproduces the guard of ApplyOutcome against a loaded row.
func checkTurn(state putting.GameState, expected int64) error {
	if state.Status != putting.StatusRunning {
		return putting.ErrNotRunning
	}
	if !state.IsTurn(expected) {
		return putting.ErrNotCurrentTurn
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultAttemptLimit
	}
	if limit > maxAttemptLimit {
		return maxAttemptLimit
	}
	return limit
}

func attemptRecord(competitionID int64, out putting.Outcome) putting.AttemptRecord {
	at := out.Attempt.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return putting.AttemptRecord{
		CompetitionID: competitionID,
		ParticipantID: out.Attempt.ParticipantID,
		Level:         out.Level,
		Result:        out.Attempt.Result,
		Outcome:       out.Kind,
		CreatedAt:     at,
	}
}

func unixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
