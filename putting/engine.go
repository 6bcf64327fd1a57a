package putting

import (
	"sort"
	"time"
)

// Apply computes the state that follows one attempt. It never mutates its inputs.
//
// The current-turn check is the only serialization between concurrent callers:
// a caller holding a stale view is rejected with ErrNotCurrentTurn.
func Apply(state GameState, participants []Participant, attempt Attempt) (Outcome, error) {
	if state.Status != StatusRunning {
		return Outcome{}, ErrNotRunning
	}
	if _, ok := ParseResult(string(attempt.Result)); !ok {
		return Outcome{}, ErrInvalidResult
	}
	if !state.IsTurn(attempt.ParticipantID) {
		return Outcome{}, ErrNotCurrentTurn
	}

	ordered := SortBySeat(participants)
	idx := indexOf(ordered, attempt.ParticipantID)
	if idx < 0 {
		return Outcome{}, errUnknownParticipant(attempt.ParticipantID)
	}
	before := SortBySeat(participants)

	level := state.CurrentLevel
	ordered[idx].LastLevel = level
	ordered[idx].LastResult = attempt.Result

	next := state
	next.UpdatedAt = attempt.At
	out := Outcome{
		ExpectedTurnID: attempt.ParticipantID,
		Attempt:        attempt,
		Level:          level,
	}

	following := nextActiveAfter(ordered, idx)
	switch {
	case following < 0:
		// Nobody else is active.
		if ordered[idx].Active() {
			declareWinner(&next, ordered[idx].ID, attempt.At)
			out.Kind = OutcomeWinnerDeclared
		} else {
			revertRound(ordered, level)
			next.CurrentTurnID = firstActiveID(ordered)
			out.Kind = OutcomeRoundReverted
		}
	case !roundComplete(ordered, level):
		next.CurrentTurnID = int64Ptr(ordered[following].ID)
		out.Kind = OutcomeTurnAdvanced
	default:
		holers := holedAt(ordered, level)
		switch len(holers) {
		case 0:
			revertRound(ordered, level)
			next.CurrentTurnID = firstActiveID(ordered)
			out.Kind = OutcomeRoundReverted
		case 1:
			declareWinner(&next, holers[0], attempt.At)
			out.Kind = OutcomeWinnerDeclared
		default:
			next.CurrentLevel = level + 1
			next.CurrentTurnID = firstActiveID(ordered)
			out.Kind = OutcomeLevelAdvanced
		}
	}

	out.State = next
	out.Participants = ordered
	out.Patches = diffPatches(before, ordered)
	return out, nil
}

// Start builds a fresh running game. Every participant is reset to level 0.
func Start(state GameState, participants []Participant, rosterSize int, now time.Time) (GameState, []Participant, error) {
	if state.Status == StatusRunning {
		return GameState{}, nil, ErrAlreadyRunning
	}
	return Reset(state, participants, rosterSize, now)
}

// Reset is Start without the running check; the existing row is rewritten in place.
func Reset(state GameState, participants []Participant, rosterSize int, now time.Time) (GameState, []Participant, error) {
	if rosterSize <= 0 {
		rosterSize = DefaultRosterSize
	}
	if len(participants) != rosterSize {
		return GameState{}, nil, errRosterSize(rosterSize, len(participants))
	}
	ordered := SortBySeat(participants)
	for i := range ordered {
		ordered[i].LastLevel = 0
		ordered[i].LastResult = ResultNone
	}
	next := GameState{
		CompetitionID: state.CompetitionID,
		Status:        StatusRunning,
		CurrentLevel:  1,
		CurrentTurnID: int64Ptr(ordered[0].ID),
		StartedAt:     now,
		UpdatedAt:     now,
	}
	return next, ordered, nil
}

// CheckRosterEditable rejects roster changes while a game is in progress.
func CheckRosterEditable(state GameState) error {
	if state.Status == StatusRunning {
		return ErrGameStarted
	}
	return nil
}

// Renumber returns participants in seat order with contiguous seats starting at 1.
func Renumber(participants []Participant) []Participant {
	ordered := SortBySeat(participants)
	for i := range ordered {
		ordered[i].Seat = i + 1
	}
	return ordered
}

// SortBySeat returns a seat-ordered copy.
func SortBySeat(participants []Participant) []Participant {
	ordered := append([]Participant(nil), participants...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Seat != ordered[j].Seat {
			return ordered[i].Seat < ordered[j].Seat
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

func indexOf(ordered []Participant, id int64) int {
	for i := range ordered {
		if ordered[i].ID == id {
			return i
		}
	}
	return -1
}

// nextActiveAfter scans strictly after idx, wrapping, and never returns idx itself.
func nextActiveAfter(ordered []Participant, idx int) int {
	n := len(ordered)
	for step := 1; step < n; step++ {
		i := (idx + step) % n
		if ordered[i].Active() {
			return i
		}
	}
	return -1
}

func roundComplete(ordered []Participant, level int) bool {
	for _, p := range ordered {
		if p.Active() && p.LastLevel != level {
			return false
		}
	}
	return true
}

func holedAt(ordered []Participant, level int) []int64 {
	var ids []int64
	for _, p := range ordered {
		if p.LastLevel == level && p.LastResult == ResultIn {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// revertRound restores everyone who attempted at level to their pre-round values.
// Only participants who held "in" at level-1 (or nothing at level 1) can reach
// level, so the pre-round values follow from the level alone.
func revertRound(ordered []Participant, level int) {
	prev := level - 1
	if prev < 0 {
		prev = 0
	}
	prevResult := ResultNone
	if prev > 0 {
		prevResult = ResultIn
	}
	for i := range ordered {
		if ordered[i].LastLevel != level {
			continue
		}
		ordered[i].LastLevel = prev
		ordered[i].LastResult = prevResult
	}
}

func firstActiveID(ordered []Participant) *int64 {
	for _, p := range ordered {
		if p.Active() {
			return int64Ptr(p.ID)
		}
	}
	return nil
}

func declareWinner(state *GameState, winnerID int64, at time.Time) {
	state.Status = StatusFinished
	state.CurrentTurnID = nil
	state.WinnerID = int64Ptr(winnerID)
	state.FinishedAt = at
}

func diffPatches(before, after []Participant) []ParticipantPatch {
	var patches []ParticipantPatch
	for i := range after {
		if before[i].LastLevel == after[i].LastLevel && before[i].LastResult == after[i].LastResult {
			continue
		}
		patches = append(patches, ParticipantPatch{
			ID:         after[i].ID,
			LastLevel:  after[i].LastLevel,
			LastResult: after[i].LastResult,
		})
	}
	return patches
}
