package contest

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"putting-live/apps/server/internal/room"
	"putting-live/draw"
	"putting-live/putting"
)

// FinalGameEntrant is one roster row as shown on the final-draw screen.
type FinalGameEntrant struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Order    int    `json:"order"`
	PlayerID int64  `json:"playerId"`
}

// FinalDrawSnapshot is the draw view of the final-game draw plus the roster.
type FinalDrawSnapshot struct {
	FinalGameParticipants []FinalGameEntrant `json:"finalGameParticipants"`
	draw.View
}

// Snapshot builds the current snapshot of the room identified by key. It is
// also the loader rooms use when a viewer arrives with nothing cached.
func (s *Service) Snapshot(ctx context.Context, key room.Key) (any, error) {
	switch key.Mode {
	case room.ModePutting:
		return s.PuttingSnapshot(ctx, key.CompetitionID)
	case room.ModeDraw:
		return s.DrawSnapshot(ctx, key.CompetitionID)
	case room.ModeFinalDraw:
		return s.FinalDrawSnapshot(ctx, key.CompetitionID)
	default:
		return nil, fmt.Errorf("unknown room mode %q", key.Mode)
	}
}

func (s *Service) PuttingSnapshot(ctx context.Context, competitionID int64) (putting.Snapshot, error) {
	if competitionID <= 0 {
		return putting.Snapshot{}, errInvalidID
	}
	state, participants, err := s.loadGame(ctx, competitionID)
	if err != nil {
		return putting.Snapshot{}, err
	}
	return putting.Project(state, participants), nil
}

func (s *Service) DrawSnapshot(ctx context.Context, competitionID int64) (draw.View, error) {
	if competitionID <= 0 {
		return draw.View{}, errInvalidID
	}
	var (
		pool   []draw.Checkin
		raw    string
		stored bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pool, err = s.eligiblePool(gctx, competitionID, draw.ModeNormal)
		return err
	})
	g.Go(func() error {
		var err error
		raw, stored, err = s.kv.Get(gctx, draw.Key(draw.ModeNormal, competitionID))
		return err
	})
	if err := g.Wait(); err != nil {
		return draw.View{}, err
	}
	st, ok := draw.State{}, false
	if stored {
		st, ok = draw.Decode(raw)
	}
	return draw.Present(st, ok, len(pool), s.now(), s.countdown), nil
}

func (s *Service) FinalDrawSnapshot(ctx context.Context, competitionID int64) (FinalDrawSnapshot, error) {
	if competitionID <= 0 {
		return FinalDrawSnapshot{}, errInvalidID
	}
	var (
		roster   []putting.Participant
		checkins []draw.Checkin
		raw      string
		stored   bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		roster, err = s.store.Participants(gctx, competitionID)
		return err
	})
	g.Go(func() error {
		var err error
		checkins, err = s.store.Checkins(gctx, competitionID)
		return err
	})
	g.Go(func() error {
		var err error
		raw, stored, err = s.kv.Get(gctx, draw.Key(draw.ModeFinalGame, competitionID))
		return err
	})
	if err := g.Wait(); err != nil {
		return FinalDrawSnapshot{}, err
	}

	roster = putting.SortBySeat(roster)
	entrants := make([]FinalGameEntrant, 0, len(roster))
	names := make([]string, 0, len(roster))
	for _, p := range roster {
		entrants = append(entrants, FinalGameEntrant{ID: p.ID, Name: p.Name, Order: p.Seat, PlayerID: p.PlayerID})
		names = append(names, p.Name)
	}
	snap := FinalDrawSnapshot{FinalGameParticipants: entrants}

	if len(roster) >= s.rosterSize {
		snap.View = draw.View{ParticipantCount: len(roster), ParticipantNames: names}
		return snap, nil
	}
	pool := draw.Eligible(checkins, draw.ModeFinalGame, rosterPlayers(roster))
	st, ok := draw.State{}, false
	if stored {
		st, ok = draw.Decode(raw)
	}
	snap.View = draw.Present(st, ok, len(pool), s.now(), s.countdown)
	return snap, nil
}

// loadGame reads the game row and the roster concurrently.
func (s *Service) loadGame(ctx context.Context, competitionID int64) (putting.GameState, []putting.Participant, error) {
	var (
		state        putting.GameState
		participants []putting.Participant
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		state, err = s.store.GameState(gctx, competitionID)
		return err
	})
	g.Go(func() error {
		var err error
		participants, err = s.store.Participants(gctx, competitionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return putting.GameState{}, nil, err
	}
	return state, participants, nil
}

func (s *Service) eligiblePool(ctx context.Context, competitionID int64, mode draw.Mode) ([]draw.Checkin, error) {
	checkins, err := s.store.Checkins(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	var roster map[int64]bool
	if mode == draw.ModeFinalGame {
		participants, err := s.store.Participants(ctx, competitionID)
		if err != nil {
			return nil, err
		}
		roster = rosterPlayers(participants)
	}
	return draw.Eligible(checkins, mode, roster), nil
}

func rosterPlayers(participants []putting.Participant) map[int64]bool {
	out := make(map[int64]bool, len(participants))
	for _, p := range participants {
		out[p.PlayerID] = true
	}
	return out
}
