package draw

import (
	"encoding/json"
	"time"
)

// State is the stored draw record. It is overwritten wholesale on every draw
// and reset. The remaining countdown is never stored.
type State struct {
	ParticipantCount   int      `json:"participantCount"`
	CountdownStartedAt *int64   `json:"countdownStartedAt,omitempty"`
	WinnerName         *string  `json:"winnerName,omitempty"`
	ParticipantNames   []string `json:"participantNames,omitempty"`
}

// Started builds the state written when a winner is drawn.
func Started(pool []Checkin, winner Checkin, now time.Time) State {
	startedAt := now.UnixMilli()
	name := winner.Name
	return State{
		ParticipantCount:   len(pool),
		CountdownStartedAt: &startedAt,
		WinnerName:         &name,
		ParticipantNames:   Names(pool),
	}
}

// Idle builds the state written on reset: a live participant count only.
func Idle(liveCount int) State {
	return State{ParticipantCount: liveCount}
}

// Active reports whether a drawn winner is currently being shown.
func (s State) Active() bool {
	return s.CountdownStartedAt != nil && s.WinnerName != nil
}

func (s State) Encode() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Decode parses a stored state. ok is false for empty or corrupt input.
func Decode(raw string) (State, bool) {
	if raw == "" {
		return State{}, false
	}
	var s State
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return State{}, false
	}
	return s, true
}

// Countdown returns the whole seconds left, clamped to [0, total].
// It depends only on the stored start and the reading clock.
func Countdown(startedAtMs int64, now time.Time, total time.Duration) int {
	seconds := int(total / time.Second)
	elapsedMs := now.UnixMilli() - startedAtMs
	if elapsedMs < 0 {
		return seconds
	}
	left := seconds - int(elapsedMs/1000)
	if left < 0 {
		return 0
	}
	return left
}

// View is the viewer-facing draw payload.
type View struct {
	ParticipantCount int      `json:"participantCount"`
	Countdown        *int     `json:"countdown,omitempty"`
	WinnerName       *string  `json:"winnerName,omitempty"`
	ParticipantNames []string `json:"participantNames,omitempty"`
}

// Present merges the stored state with the live pool size.
// While a draw is showing the stored pool size wins; when idle the larger of
// the live and stored counts is shown so a lagging read never reports zero.
func Present(stored State, hasStored bool, liveCount int, now time.Time, total time.Duration) View {
	if !hasStored {
		return View{ParticipantCount: liveCount}
	}
	if !stored.Active() {
		count := liveCount
		if stored.ParticipantCount > count {
			count = stored.ParticipantCount
		}
		return View{ParticipantCount: count}
	}
	countdown := Countdown(*stored.CountdownStartedAt, now, total)
	return View{
		ParticipantCount: stored.ParticipantCount,
		Countdown:        &countdown,
		WinnerName:       stored.WinnerName,
		ParticipantNames: stored.ParticipantNames,
	}
}
