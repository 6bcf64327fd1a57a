package putting

// PlayerView is one row of the broadcast player list.
type PlayerView struct {
	ID         int64   `json:"id"`
	Order      int     `json:"order"`
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	LastLevel  int     `json:"lastLevel"`
	LastResult *string `json:"lastResult"`
}

// GameView is the viewer-facing projection of the canonical state.
type GameView struct {
	GameStatus               Status       `json:"gameStatus"`
	CurrentLevel             int          `json:"currentLevel"`
	CurrentTurnParticipantID *int64       `json:"currentTurnParticipantId"`
	CurrentTurnName          *string      `json:"currentTurnName"`
	WinnerID                 *int64       `json:"winnerId"`
	WinnerName               *string      `json:"winnerName"`
	Players                  []PlayerView `json:"players"`
}

// Snapshot is the payload pushed to putting-room subscribers.
type Snapshot struct {
	PuttingGame GameView `json:"puttingGame"`
}

// Project builds the viewer snapshot from canonical state.
func Project(state GameState, participants []Participant) Snapshot {
	ordered := SortBySeat(participants)
	names := make(map[int64]string, len(ordered))
	players := make([]PlayerView, 0, len(ordered))
	for _, p := range ordered {
		names[p.ID] = p.Name
		status := "active"
		if !p.Active() {
			status = "out"
		}
		var lastResult *string
		if p.LastResult != ResultNone {
			r := string(p.LastResult)
			lastResult = &r
		}
		players = append(players, PlayerView{
			ID:         p.ID,
			Order:      p.Seat,
			Name:       p.Name,
			Status:     status,
			LastLevel:  p.LastLevel,
			LastResult: lastResult,
		})
	}

	level := state.CurrentLevel
	if level < 1 {
		level = 1
	}
	status := state.Status
	if !status.Valid() {
		status = StatusNotStarted
	}
	return Snapshot{PuttingGame: GameView{
		GameStatus:               status,
		CurrentLevel:             level,
		CurrentTurnParticipantID: state.CurrentTurnID,
		CurrentTurnName:          lookupName(names, state.CurrentTurnID),
		WinnerID:                 state.WinnerID,
		WinnerName:               lookupName(names, state.WinnerID),
		Players:                  players,
	}}
}

func lookupName(names map[int64]string, id *int64) *string {
	if id == nil {
		return nil
	}
	name, ok := names[*id]
	if !ok {
		return nil
	}
	return &name
}
