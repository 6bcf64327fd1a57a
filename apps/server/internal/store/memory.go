package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"putting-live/draw"
	"putting-live/putting"
)

// Memory is an in-process Store for local runs and tests.
type Memory struct {
	mu           sync.Mutex
	participants map[int64]putting.Participant
	games        map[int64]putting.GameState
	checkins     map[int64]draw.Checkin
	attempts     []putting.AttemptRecord
	nextID       int64
}

func NewMemory() *Memory {
	return &Memory{
		participants: make(map[int64]putting.Participant),
		games:        make(map[int64]putting.GameState),
		checkins:     make(map[int64]draw.Checkin),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Participants(_ context.Context, competitionID int64) ([]putting.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rosterLocked(competitionID), nil
}

func (m *Memory) rosterLocked(competitionID int64) []putting.Participant {
	var out []putting.Participant
	for _, p := range m.participants {
		if p.CompetitionID == competitionID {
			out = append(out, p)
		}
	}
	return putting.SortBySeat(out)
}

func (m *Memory) GameState(_ context.Context, competitionID int64) (putting.GameState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gameLocked(competitionID), nil
}

func (m *Memory) gameLocked(competitionID int64) putting.GameState {
	if g, ok := m.games[competitionID]; ok {
		return g
	}
	return putting.NotStarted(competitionID)
}

func (m *Memory) ApplyOutcome(_ context.Context, competitionID int64, out putting.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkTurn(m.gameLocked(competitionID), out.ExpectedTurnID); err != nil {
		return err
	}
	for _, patch := range out.Patches {
		p, ok := m.participants[patch.ID]
		if !ok || p.CompetitionID != competitionID {
			return ErrParticipantNotFound
		}
	}
	for _, patch := range out.Patches {
		p := m.participants[patch.ID]
		p.LastLevel = patch.LastLevel
		p.LastResult = patch.LastResult
		m.participants[patch.ID] = p
	}
	state := out.State
	state.CompetitionID = competitionID
	m.games[competitionID] = state

	rec := attemptRecord(competitionID, out)
	m.nextID++
	rec.ID = m.nextID
	m.attempts = append(m.attempts, rec)
	return nil
}

func (m *Memory) SaveGameStart(_ context.Context, state putting.GameState, participants []putting.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range participants {
		cur, ok := m.participants[p.ID]
		if !ok {
			return ErrParticipantNotFound
		}
		cur.LastLevel = p.LastLevel
		cur.LastResult = p.LastResult
		m.participants[p.ID] = cur
	}
	m.games[state.CompetitionID] = state
	return nil
}

func (m *Memory) Checkins(_ context.Context, competitionID int64) ([]draw.Checkin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []draw.Checkin
	for _, c := range m.checkins {
		if c.CompetitionID == competitionID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateCheckin(_ context.Context, competitionID, playerID int64, name string) (draw.Checkin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	c := draw.Checkin{
		ID:            m.nextID,
		CompetitionID: competitionID,
		PlayerID:      playerID,
		Name:          strings.TrimSpace(name),
		CreatedAt:     time.Now().UTC(),
	}
	m.checkins[c.ID] = c
	return c, nil
}

func (m *Memory) MarkPrizeWon(_ context.Context, checkinID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.checkins[checkinID]
	if !ok {
		return ErrCheckinNotFound
	}
	c.PrizeWon = true
	m.checkins[checkinID] = c
	return nil
}

func (m *Memory) ConfirmEntrant(_ context.Context, competitionID, checkinID int64, rosterSize int) (putting.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.checkins[checkinID]
	if !ok || c.CompetitionID != competitionID {
		return putting.Participant{}, ErrCheckinNotFound
	}
	roster := m.rosterLocked(competitionID)
	if err := checkConfirm(m.gameLocked(competitionID), roster, c, rosterSize); err != nil {
		return putting.Participant{}, err
	}

	m.nextID++
	p := putting.Participant{
		ID:            m.nextID,
		CompetitionID: competitionID,
		PlayerID:      c.PlayerID,
		Name:          c.Name,
		Seat:          len(roster) + 1,
	}
	m.participants[p.ID] = p
	return p, nil
}

func (m *Memory) RemoveEntrant(_ context.Context, competitionID, participantID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := putting.CheckRosterEditable(m.gameLocked(competitionID)); err != nil {
		return err
	}
	p, ok := m.participants[participantID]
	if !ok || p.CompetitionID != competitionID {
		return ErrParticipantNotFound
	}
	delete(m.participants, participantID)
	for _, r := range putting.Renumber(m.rosterLocked(competitionID)) {
		m.participants[r.ID] = r
	}
	return nil
}

func (m *Memory) Attempts(_ context.Context, competitionID int64, limit int) ([]putting.AttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit = clampLimit(limit)
	var out []putting.AttemptRecord
	for i := len(m.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		if m.attempts[i].CompetitionID == competitionID {
			out = append(out, m.attempts[i])
		}
	}
	return out, nil
}
