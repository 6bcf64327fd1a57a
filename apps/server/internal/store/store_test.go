package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"putting-live/apperr"
	"putting-live/putting"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	lite, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite err: %v", err)
	}
	t.Cleanup(func() { _ = lite.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": lite,
	}
}

func seedRoster(t *testing.T, s Store, competitionID int64, n int) []putting.Participant {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		c, err := s.CreateCheckin(ctx, competitionID, int64(500+i), fmt.Sprintf("P%d", i+1))
		if err != nil {
			t.Fatalf("CreateCheckin err: %v", err)
		}
		if _, err := s.ConfirmEntrant(ctx, competitionID, c.ID, putting.DefaultRosterSize); err != nil {
			t.Fatalf("ConfirmEntrant err: %v", err)
		}
	}
	roster, err := s.Participants(ctx, competitionID)
	if err != nil {
		t.Fatalf("Participants err: %v", err)
	}
	return roster
}

func startGame(t *testing.T, s Store, competitionID int64) (putting.GameState, []putting.Participant) {
	t.Helper()
	ctx := context.Background()
	roster := seedRoster(t, s, competitionID, putting.DefaultRosterSize)
	state, _ := s.GameState(ctx, competitionID)
	next, ps, err := putting.Start(state, roster, putting.DefaultRosterSize, time.Now())
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if err := s.SaveGameStart(ctx, next, ps); err != nil {
		t.Fatalf("SaveGameStart err: %v", err)
	}
	return next, ps
}

func TestStore_ConfirmAssignsContiguousSeats(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			roster := seedRoster(t, s, 1, 3)
			for i, p := range roster {
				if p.Seat != i+1 {
					t.Fatalf("expected seat %d, got %d", i+1, p.Seat)
				}
				if p.LastLevel != 0 || p.LastResult != putting.ResultNone {
					t.Fatalf("expected fresh participant, got %+v", p)
				}
			}
		})
	}
}

func TestStore_ConfirmRejections(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c, _ := s.CreateCheckin(ctx, 2, 900, "Solo")
			if _, err := s.ConfirmEntrant(ctx, 2, c.ID, 10); err != nil {
				t.Fatalf("first confirm err: %v", err)
			}
			if _, err := s.ConfirmEntrant(ctx, 2, c.ID, 10); !errors.Is(err, ErrAlreadyInRoster) {
				t.Fatalf("expected ErrAlreadyInRoster, got %v", err)
			}
			if _, err := s.ConfirmEntrant(ctx, 2, 99999, 10); !errors.Is(err, ErrCheckinNotFound) {
				t.Fatalf("expected ErrCheckinNotFound, got %v", err)
			}
			other, _ := s.CreateCheckin(ctx, 2, 901, "Late")
			if _, err := s.ConfirmEntrant(ctx, 2, other.ID, 1); !errors.Is(err, ErrRosterFull) {
				t.Fatalf("expected ErrRosterFull, got %v", err)
			}
		})
	}
}

func TestStore_RemoveRenumbers(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			roster := seedRoster(t, s, 3, 4)
			if err := s.RemoveEntrant(ctx, 3, roster[1].ID); err != nil {
				t.Fatalf("RemoveEntrant err: %v", err)
			}
			after, _ := s.Participants(ctx, 3)
			if len(after) != 3 {
				t.Fatalf("expected 3 participants, got %d", len(after))
			}
			for i, p := range after {
				if p.Seat != i+1 {
					t.Fatalf("expected contiguous seat %d, got %d", i+1, p.Seat)
				}
			}
			if after[1].ID != roster[2].ID {
				t.Fatalf("expected relative order kept")
			}
			if err := s.RemoveEntrant(ctx, 3, roster[1].ID); !errors.Is(err, ErrParticipantNotFound) {
				t.Fatalf("expected ErrParticipantNotFound, got %v", err)
			}
		})
	}
}

func TestStore_RosterLockedWhileRunning(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ps := startGame(t, s, 4)
			if err := s.RemoveEntrant(ctx, 4, ps[0].ID); !errors.Is(err, putting.ErrGameStarted) {
				t.Fatalf("expected ErrGameStarted on remove, got %v", err)
			}
			c, _ := s.CreateCheckin(ctx, 4, 777, "Late")
			if _, err := s.ConfirmEntrant(ctx, 4, c.ID, 20); !errors.Is(err, putting.ErrGameStarted) {
				t.Fatalf("expected ErrGameStarted on confirm, got %v", err)
			}
		})
	}
}

func TestStore_ApplyOutcomeJournalsAndGuardsTurn(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			state, ps := startGame(t, s, 5)
			out, err := putting.Apply(state, ps, putting.Attempt{ParticipantID: ps[0].ID, Result: putting.ResultIn, At: time.Now()})
			if err != nil {
				t.Fatalf("Apply err: %v", err)
			}
			if err := s.ApplyOutcome(ctx, 5, out); err != nil {
				t.Fatalf("ApplyOutcome err: %v", err)
			}
			if err := s.ApplyOutcome(ctx, 5, out); !errors.Is(err, putting.ErrNotCurrentTurn) {
				t.Fatalf("expected stale outcome rejected, got %v", err)
			}

			got, _ := s.GameState(ctx, 5)
			if !got.IsTurn(ps[1].ID) {
				t.Fatalf("expected turn to advance to %d, got %v", ps[1].ID, got.CurrentTurnID)
			}
			roster, _ := s.Participants(ctx, 5)
			if roster[0].LastLevel != 1 || roster[0].LastResult != putting.ResultIn {
				t.Fatalf("expected first participant patched, got %+v", roster[0])
			}
			journal, _ := s.Attempts(ctx, 5, 0)
			if len(journal) != 1 || journal[0].Outcome != putting.OutcomeTurnAdvanced || journal[0].Level != 1 {
				t.Fatalf("unexpected journal %+v", journal)
			}
		})
	}
}

func TestStore_ApplyOutcomeRequiresRunningGame(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			out := putting.Outcome{ExpectedTurnID: 1, State: putting.NotStarted(6)}
			if err := s.ApplyOutcome(ctx, 6, out); !errors.Is(err, putting.ErrNotRunning) {
				t.Fatalf("expected ErrNotRunning, got %v", err)
			}
		})
	}
}

func TestStore_ConcurrentDuplicateSubmissions(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			state, ps := startGame(t, s, 7)
			out, err := putting.Apply(state, ps, putting.Attempt{ParticipantID: ps[0].ID, Result: putting.ResultOut, At: time.Now()})
			if err != nil {
				t.Fatalf("Apply err: %v", err)
			}

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs[i] = s.ApplyOutcome(ctx, 7, out)
				}(i)
			}
			wg.Wait()

			ok, stale := 0, 0
			for _, err := range errs {
				switch {
				case err == nil:
					ok++
				case errors.Is(err, putting.ErrNotCurrentTurn):
					stale++
				default:
					t.Fatalf("unexpected err: %v", err)
				}
			}
			if ok != 1 || stale != 1 {
				t.Fatalf("expected one success and one stale, got ok=%d stale=%d", ok, stale)
			}
			journal, _ := s.Attempts(ctx, 7, 10)
			if len(journal) != 1 {
				t.Fatalf("expected exactly one journaled attempt, got %d", len(journal))
			}
		})
	}
}

func TestStore_MarkPrizeWon(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c, _ := s.CreateCheckin(ctx, 8, 1, "Winner")
			if err := s.MarkPrizeWon(ctx, c.ID); err != nil {
				t.Fatalf("MarkPrizeWon err: %v", err)
			}
			all, _ := s.Checkins(ctx, 8)
			if len(all) != 1 || !all[0].PrizeWon {
				t.Fatalf("expected prize won flag, got %+v", all)
			}
			if err := s.MarkPrizeWon(ctx, 424242); apperr.KindOf(err) != apperr.KindNotFound {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	}
}

func TestDollarPlaceholders(t *testing.T) {
	got := dollarPlaceholders("UPDATE t SET a = ?, b = ? WHERE id = ?")
	if got != "UPDATE t SET a = $1, b = $2 WHERE id = $3" {
		t.Fatalf("unexpected rebind %q", got)
	}
}
