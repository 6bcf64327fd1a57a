package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"putting-live/apperr"
	"putting-live/apps/server/internal/config"
	"putting-live/draw"
	"putting-live/putting"
)

// sqlStore holds the queries shared by the sqlite and postgres backends.
// Queries are written with ? placeholders; rebind adapts them per driver.
type sqlStore struct {
	db       *sql.DB
	rebind   func(string) string
	isUnique func(error) bool
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Participants(ctx context.Context, competitionID int64) ([]putting.Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, config.DBCall)
	defer cancel()
	roster, err := s.loadRoster(ctx, s.db, competitionID)
	if err != nil {
		return nil, apperr.Persistence("load participants", err)
	}
	return roster, nil
}

func (s *sqlStore) GameState(ctx context.Context, competitionID int64) (putting.GameState, error) {
	ctx, cancel := context.WithTimeout(ctx, config.DBCall)
	defer cancel()
	state, err := s.loadGame(ctx, s.db, competitionID)
	if err != nil {
		return putting.GameState{}, apperr.Persistence("load game state", err)
	}
	return state, nil
}

func (s *sqlStore) ApplyOutcome(ctx context.Context, competitionID int64, out putting.Outcome) error {
	ctx, cancel := context.WithTimeout(ctx, config.DBCall)
	defer cancel()
	return apperr.Persistence("apply outcome", s.applyOutcome(ctx, competitionID, out))
}

func (s *sqlStore) applyOutcome(ctx context.Context, competitionID int64, out putting.Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	next := out.State
	res, err := tx.ExecContext(ctx, s.rebind(`
UPDATE competition_games
SET status = ?, current_level = ?, current_turn_id = ?, winner_id = ?, finished_at_ms = ?, updated_at_ms = ?
WHERE competition_id = ? AND status = 'running' AND current_turn_id = ?
`), string(next.Status), next.CurrentLevel, nullableInt64Ptr(next.CurrentTurnID), nullableInt64Ptr(next.WinnerID),
		unixMs(next.FinishedAt), unixMs(next.UpdatedAt), competitionID, out.ExpectedTurnID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		current, err := s.loadGame(ctx, tx, competitionID)
		if err != nil {
			return err
		}
		if err := checkTurn(current, out.ExpectedTurnID); err != nil {
			return err
		}
		return putting.ErrNotCurrentTurn
	}

	for _, patch := range out.Patches {
		res, err := tx.ExecContext(ctx, s.rebind(`
UPDATE final_game_participants SET last_level = ?, last_result = ?
WHERE id = ? AND competition_id = ?
`), patch.LastLevel, string(patch.LastResult), patch.ID, competitionID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrParticipantNotFound
		}
	}

	rec := attemptRecord(competitionID, out)
	if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO putting_attempts (competition_id, participant_id, level, result, outcome, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
`), rec.CompetitionID, rec.ParticipantID, rec.Level, string(rec.Result), string(rec.Outcome), unixMs(rec.CreatedAt)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) SaveGameStart(ctx context.Context, state putting.GameState, participants []putting.Participant) error {
	ctx, cancel := context.WithTimeout(ctx, config.DBCall)
	defer cancel()
	return apperr.Persistence("save game start", s.saveGameStart(ctx, state, participants))
}

func (s *sqlStore) saveGameStart(ctx context.Context, state putting.GameState, participants []putting.Participant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO competition_games (
    competition_id, status, current_level, current_turn_id, winner_id, started_at_ms, finished_at_ms, updated_at_ms
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (competition_id) DO UPDATE SET
    status = excluded.status,
    current_level = excluded.current_level,
    current_turn_id = excluded.current_turn_id,
    winner_id = excluded.winner_id,
    started_at_ms = excluded.started_at_ms,
    finished_at_ms = excluded.finished_at_ms,
    updated_at_ms = excluded.updated_at_ms
`), state.CompetitionID, string(state.Status), state.CurrentLevel, nullableInt64Ptr(state.CurrentTurnID),
		nullableInt64Ptr(state.WinnerID), unixMs(state.StartedAt), unixMs(state.FinishedAt), unixMs(state.UpdatedAt)); err != nil {
		return err
	}

	for _, p := range participants {
		res, err := tx.ExecContext(ctx, s.rebind(`
UPDATE final_game_participants SET last_level = ?, last_result = ?
WHERE id = ? AND competition_id = ?
`), p.LastLevel, string(p.LastResult), p.ID, state.CompetitionID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrParticipantNotFound
		}
	}
	return tx.Commit()
}

func (s *sqlStore) Checkins(ctx context.Context, competitionID int64) ([]draw.Checkin, error) {
	ctx, cancel := context.WithTimeout(ctx, config.DBCall)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, competition_id, player_id, name, prize_won, created_at_ms
FROM checkins
WHERE competition_id = ?
ORDER BY id ASC
`), competitionID)
	if err != nil {
		return nil, apperr.Persistence("load checkins", err)
	}
	defer rows.Close()

	var out []draw.Checkin
	for rows.Next() {
		c, err := scanCheckin(rows)
		if err != nil {
			return nil, apperr.Persistence("scan checkin", err)
		}
		out = append(out, c)
	}
	return out, apperr.Persistence("load checkins", rows.Err())
}

func (s *sqlStore) CreateCheckin(ctx context.Context, competitionID, playerID int64, name string) (draw.Checkin, error) {
	ctx, cancel := context.WithTimeout(ctx, config.DBCall)
	defer cancel()

	c := draw.Checkin{
		CompetitionID: competitionID,
		PlayerID:      playerID,
		Name:          strings.TrimSpace(name),
		CreatedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
	err := s.db.QueryRowContext(ctx, s.rebind(`
INSERT INTO checkins (competition_id, player_id, name, prize_won, created_at_ms)
VALUES (?, ?, ?, 0, ?)
RETURNING id
`), c.CompetitionID, c.PlayerID, c.Name, unixMs(c.CreatedAt)).Scan(&c.ID)
	if err != nil {
		return draw.Checkin{}, apperr.Persistence("create checkin", err)
	}
	return c, nil
}

func (s *sqlStore) MarkPrizeWon(ctx context.Context, checkinID int64) error {
	ctx, cancel := context.WithTimeout(ctx, config.DBCall)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE checkins SET prize_won = 1 WHERE id = ?`), checkinID)
	if err != nil {
		return apperr.Persistence("mark prize won", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return apperr.Persistence("mark prize won", err)
	} else if n == 0 {
		return ErrCheckinNotFound
	}
	return nil
}

func (s *sqlStore) ConfirmEntrant(ctx context.Context, competitionID, checkinID int64, rosterSize int) (putting.Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, config.DBCall)
	defer cancel()

	p, err := s.confirmEntrant(ctx, competitionID, checkinID, rosterSize)
	if err != nil {
		if s.isUnique != nil && s.isUnique(err) {
			return putting.Participant{}, ErrAlreadyInRoster
		}
		return putting.Participant{}, apperr.Persistence("confirm entrant", err)
	}
	return p, nil
}

func (s *sqlStore) confirmEntrant(ctx context.Context, competitionID, checkinID int64, rosterSize int) (putting.Participant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return putting.Participant{}, err
	}
	defer tx.Rollback()

	c, err := scanCheckin(tx.QueryRowContext(ctx, s.rebind(`
SELECT id, competition_id, player_id, name, prize_won, created_at_ms
FROM checkins
WHERE id = ? AND competition_id = ?
`), checkinID, competitionID))
	if errors.Is(err, sql.ErrNoRows) {
		return putting.Participant{}, ErrCheckinNotFound
	}
	if err != nil {
		return putting.Participant{}, err
	}
	state, err := s.loadGame(ctx, tx, competitionID)
	if err != nil {
		return putting.Participant{}, err
	}
	roster, err := s.loadRoster(ctx, tx, competitionID)
	if err != nil {
		return putting.Participant{}, err
	}
	if err := checkConfirm(state, roster, c, rosterSize); err != nil {
		return putting.Participant{}, err
	}

	p := putting.Participant{
		CompetitionID: competitionID,
		PlayerID:      c.PlayerID,
		Name:          c.Name,
		Seat:          len(roster) + 1,
	}
	if err := tx.QueryRowContext(ctx, s.rebind(`
INSERT INTO final_game_participants (competition_id, player_id, name, seat, last_level, last_result, created_at_ms)
VALUES (?, ?, ?, ?, 0, '', ?)
RETURNING id
`), p.CompetitionID, p.PlayerID, p.Name, p.Seat, time.Now().UTC().UnixMilli()).Scan(&p.ID); err != nil {
		return putting.Participant{}, err
	}
	if err := tx.Commit(); err != nil {
		return putting.Participant{}, err
	}
	return p, nil
}

func (s *sqlStore) RemoveEntrant(ctx context.Context, competitionID, participantID int64) error {
	ctx, cancel := context.WithTimeout(ctx, config.DBCall)
	defer cancel()
	return apperr.Persistence("remove entrant", s.removeEntrant(ctx, competitionID, participantID))
}

func (s *sqlStore) removeEntrant(ctx context.Context, competitionID, participantID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	state, err := s.loadGame(ctx, tx, competitionID)
	if err != nil {
		return err
	}
	if err := putting.CheckRosterEditable(state); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.rebind(`
DELETE FROM final_game_participants WHERE id = ? AND competition_id = ?
`), participantID, competitionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrParticipantNotFound
	}

	roster, err := s.loadRoster(ctx, tx, competitionID)
	if err != nil {
		return err
	}
	for _, p := range putting.Renumber(roster) {
		if _, err := tx.ExecContext(ctx, s.rebind(`
UPDATE final_game_participants SET seat = ? WHERE id = ?
`), p.Seat, p.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) Attempts(ctx context.Context, competitionID int64, limit int) ([]putting.AttemptRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, config.DBCall)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, competition_id, participant_id, level, result, outcome, created_at_ms
FROM putting_attempts
WHERE competition_id = ?
ORDER BY id DESC
LIMIT ?
`), competitionID, clampLimit(limit))
	if err != nil {
		return nil, apperr.Persistence("load attempts", err)
	}
	defer rows.Close()

	var out []putting.AttemptRecord
	for rows.Next() {
		var (
			rec       putting.AttemptRecord
			result    string
			outcome   string
			createdMs int64
		)
		if err := rows.Scan(&rec.ID, &rec.CompetitionID, &rec.ParticipantID, &rec.Level, &result, &outcome, &createdMs); err != nil {
			return nil, apperr.Persistence("scan attempt", err)
		}
		rec.Result = putting.Result(result)
		rec.Outcome = putting.OutcomeKind(outcome)
		rec.CreatedAt = fromUnixMs(createdMs)
		out = append(out, rec)
	}
	return out, apperr.Persistence("load attempts", rows.Err())
}

func (s *sqlStore) loadGame(ctx context.Context, q querier, competitionID int64) (putting.GameState, error) {
	var (
		status     string
		turnID     sql.NullInt64
		winnerID   sql.NullInt64
		startedMs  int64
		finishedMs int64
		updatedMs  int64
		state      = putting.GameState{CompetitionID: competitionID}
	)
	err := q.QueryRowContext(ctx, s.rebind(`
SELECT status, current_level, current_turn_id, winner_id, started_at_ms, finished_at_ms, updated_at_ms
FROM competition_games
WHERE competition_id = ?
`), competitionID).Scan(&status, &state.CurrentLevel, &turnID, &winnerID, &startedMs, &finishedMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return putting.NotStarted(competitionID), nil
	}
	if err != nil {
		return putting.GameState{}, err
	}
	state.Status = putting.Status(status)
	if turnID.Valid {
		state.CurrentTurnID = &turnID.Int64
	}
	if winnerID.Valid {
		state.WinnerID = &winnerID.Int64
	}
	state.StartedAt = fromUnixMs(startedMs)
	state.FinishedAt = fromUnixMs(finishedMs)
	state.UpdatedAt = fromUnixMs(updatedMs)
	return state, nil
}

func (s *sqlStore) loadRoster(ctx context.Context, q querier, competitionID int64) ([]putting.Participant, error) {
	rows, err := q.QueryContext(ctx, s.rebind(`
SELECT id, competition_id, player_id, name, seat, last_level, last_result
FROM final_game_participants
WHERE competition_id = ?
ORDER BY seat ASC, id ASC
`), competitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []putting.Participant
	for rows.Next() {
		var (
			p      putting.Participant
			result string
		)
		if err := rows.Scan(&p.ID, &p.CompetitionID, &p.PlayerID, &p.Name, &p.Seat, &p.LastLevel, &result); err != nil {
			return nil, err
		}
		p.LastResult = putting.Result(result)
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckin(row rowScanner) (draw.Checkin, error) {
	var (
		c         draw.Checkin
		prizeWon  int64
		createdMs int64
	)
	if err := row.Scan(&c.ID, &c.CompetitionID, &c.PlayerID, &c.Name, &prizeWon, &createdMs); err != nil {
		return draw.Checkin{}, err
	}
	c.PrizeWon = prizeWon != 0
	c.CreatedAt = fromUnixMs(createdMs)
	return c, nil
}

func identity(q string) string { return q }

// dollarPlaceholders rewrites ? placeholders to $1, $2, ... for lib/pq.
func dollarPlaceholders(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}
