package putting

import (
	"fmt"

	"putting-live/apperr"
)

var (
	ErrNotRunning     = apperr.State(apperr.CodeGameNotRunning, "game not running")
	ErrNotCurrentTurn = apperr.State(apperr.CodeNotCurrentTurn, "not current turn")
	ErrAlreadyRunning = apperr.State(apperr.CodeGameAlreadyRunning, "game already running")
	ErrGameStarted    = apperr.State(apperr.CodeGameStarted, "roster is locked while the game is running")
	ErrInvalidResult  = apperr.Validation(apperr.CodeInvalidResult, `result must be "in" or "out"`)
)

func errRosterSize(want, got int) error {
	return apperr.Validation(apperr.CodeInvalidRosterSize,
		fmt.Sprintf("exactly %d participants required, have %d", want, got))
}

func errUnknownParticipant(id int64) error {
	return apperr.NotFound(fmt.Sprintf("participant %d not found", id))
}
