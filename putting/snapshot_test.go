package putting

import (
	"encoding/json"
	"testing"
)

func TestProject_NotStartedHasNoTurnOrWinner(t *testing.T) {
	snap := Project(NotStarted(7), newRoster(3))
	view := snap.PuttingGame
	if view.GameStatus != StatusNotStarted || view.CurrentLevel != 1 {
		t.Fatalf("unexpected header %+v", view)
	}
	if view.CurrentTurnName != nil || view.WinnerName != nil {
		t.Fatalf("expected no turn or winner names")
	}
	if len(view.Players) != 3 || view.Players[0].Status != "active" {
		t.Fatalf("unexpected players %+v", view.Players)
	}
}

func TestProject_ResolvesNamesAndStatuses(t *testing.T) {
	ps := holdAt(newRoster(3), 2)
	ps[2].LastLevel, ps[2].LastResult = 1, ResultOut
	state := runningAt(2, ps[1].ID)

	view := Project(state, ps).PuttingGame
	if view.CurrentTurnName == nil || *view.CurrentTurnName != "B" {
		t.Fatalf("expected current turn name B, got %v", view.CurrentTurnName)
	}
	if view.Players[2].Status != "out" {
		t.Fatalf("expected C reported out")
	}
	if view.Players[0].LastResult == nil || *view.Players[0].LastResult != "in" {
		t.Fatalf("expected A lastResult in")
	}
}

func TestProject_JSONShape(t *testing.T) {
	raw, err := json.Marshal(Project(NotStarted(7), newRoster(1)))
	if err != nil {
		t.Fatalf("marshal err: %v", err)
	}
	want := `{"puttingGame":{"gameStatus":"not_started","currentLevel":1,"currentTurnParticipantId":null,` +
		`"currentTurnName":null,"winnerId":null,"winnerName":null,"players":[{"id":101,"order":1,"name":"A",` +
		`"status":"active","lastLevel":0,"lastResult":null}]}}`
	if string(raw) != want {
		t.Fatalf("unexpected json:\n got %s\nwant %s", raw, want)
	}
}
