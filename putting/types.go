package putting

import "time"

// DefaultRosterSize is the number of confirmed entrants a game needs to start.
const DefaultRosterSize = 10

// Status of the putting game for one competition.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusFinished   Status = "finished"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusRunning, StatusFinished:
		return true
	}
	return false
}

// Result of a single putt. ResultNone means no attempt recorded yet.
type Result string

const (
	ResultNone Result = ""
	ResultIn   Result = "in"
	ResultOut  Result = "out"
)

func ParseResult(raw string) (Result, bool) {
	switch Result(raw) {
	case ResultIn:
		return ResultIn, true
	case ResultOut:
		return ResultOut, true
	}
	return ResultNone, false
}

// OutcomeKind describes which branch of the transition was taken.
type OutcomeKind string

const (
	OutcomeTurnAdvanced   OutcomeKind = "turn_advanced"
	OutcomeLevelAdvanced  OutcomeKind = "level_advanced"
	OutcomeWinnerDeclared OutcomeKind = "winner_declared"
	OutcomeRoundReverted  OutcomeKind = "round_reverted"
)

// Participant is one confirmed entrant of the final game.
type Participant struct {
	ID            int64
	CompetitionID int64
	PlayerID      int64
	Name          string
	Seat          int
	LastLevel     int
	LastResult    Result
}

// Active reports whether the participant is still in contention.
func (p Participant) Active() bool {
	return p.LastResult != ResultOut
}

// GameState is the canonical per-competition game row.
type GameState struct {
	CompetitionID int64
	Status        Status
	CurrentLevel  int
	CurrentTurnID *int64
	WinnerID      *int64
	StartedAt     time.Time
	FinishedAt    time.Time
	UpdatedAt     time.Time
}

// NotStarted is the state reported for a competition without a game row.
func NotStarted(competitionID int64) GameState {
	return GameState{
		CompetitionID: competitionID,
		Status:        StatusNotStarted,
		CurrentLevel:  1,
	}
}

// IsTurn reports whether participantID currently holds the turn.
func (s GameState) IsTurn(participantID int64) bool {
	return s.CurrentTurnID != nil && *s.CurrentTurnID == participantID
}

// Attempt is one submitted putt.
type Attempt struct {
	ParticipantID int64
	Result        Result
	At            time.Time
}

// ParticipantPatch is the per-participant write produced by a transition.
type ParticipantPatch struct {
	ID         int64
	LastLevel  int
	LastResult Result
}

// Outcome is the result of applying one attempt.
type Outcome struct {
	Kind OutcomeKind
	// ExpectedTurnID is the turn holder the write must be conditioned on.
	ExpectedTurnID int64
	Attempt        Attempt
	Level          int
	State          GameState
	Participants   []Participant
	Patches        []ParticipantPatch
}

// AttemptRecord is one journaled attempt.
type AttemptRecord struct {
	ID            int64
	CompetitionID int64
	ParticipantID int64
	Level         int
	Result        Result
	Outcome       OutcomeKind
	CreatedAt     time.Time
}

func int64Ptr(v int64) *int64 {
	return &v
}
