// Package contest runs the live contest actions: it validates input, applies
// the engines against canonical state, persists the result and then notifies
// the affected room.
package contest

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"putting-live/apperr"
	"putting-live/apps/server/internal/kv"
	"putting-live/apps/server/internal/room"
	"putting-live/apps/server/internal/store"
	"putting-live/draw"
	"putting-live/putting"
)

type Options struct {
	RosterSize int
	Countdown  time.Duration
	Heartbeat  time.Duration
	// Rand drives the draw. Nil seeds one from the clock.
	Rand *rand.Rand
	Now  func() time.Time
}

type Service struct {
	store store.Store
	kv    kv.Store
	rooms *room.Registry

	rosterSize int
	countdown  time.Duration
	now        func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	tracer trace.Tracer
}

// DrawResult is returned by Draw.
type DrawResult struct {
	WinnerName       string   `json:"winnerName"`
	ParticipantNames []string `json:"participantNames"`
	Snapshot         any      `json:"snapshot"`
}

var errInvalidID = apperr.Validation(apperr.CodeInvalidInput, "invalid id")

func New(st store.Store, eph kv.Store, opts Options) *Service {
	if opts.RosterSize <= 0 {
		opts.RosterSize = putting.DefaultRosterSize
	}
	if opts.Countdown <= 0 {
		opts.Countdown = draw.DefaultCountdown
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s := &Service{
		store:      st,
		kv:         eph,
		rosterSize: opts.RosterSize,
		countdown:  opts.Countdown,
		now:        opts.Now,
		rng:        opts.Rand,
		tracer:     otel.Tracer("putting-live/contest"),
	}
	s.rooms = room.NewRegistry(opts.Heartbeat, s.Snapshot)
	return s
}

// Rooms exposes the registry the gateway subscribes viewers through.
func (s *Service) Rooms() *room.Registry {
	return s.rooms
}

func (s *Service) Close() {
	s.rooms.Close()
}

func (s *Service) startSpan(ctx context.Context, name string, competitionID int64) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "contest."+name, trace.WithAttributes(attribute.Int64("competition.id", competitionID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.code", string(apperr.CodeOf(err))))
	}
	span.End()
}

func (s *Service) notify(key room.Key, snapshot any) {
	s.rooms.Broadcast(key, snapshot)
}

func logFailure(action string, competitionID int64, err error) {
	if err == nil {
		return
	}
	if apperr.KindOf(err) == apperr.KindPersistence || apperr.KindOf(err) == apperr.KindUnknown {
		log.Printf("[Contest] %s failed for competition %d: %v", action, competitionID, err)
	}
}

// StartGame starts the putting game. It fails when the game is already running.
func (s *Service) StartGame(ctx context.Context, competitionID int64) (snap putting.Snapshot, err error) {
	ctx, span := s.startSpan(ctx, "StartGame", competitionID)
	defer func() { endSpan(span, err); logFailure("StartGame", competitionID, err) }()
	return s.start(ctx, competitionID, putting.Start)
}

// ResetGame rewrites the game row in place as a fresh running game.
func (s *Service) ResetGame(ctx context.Context, competitionID int64) (snap putting.Snapshot, err error) {
	ctx, span := s.startSpan(ctx, "ResetGame", competitionID)
	defer func() { endSpan(span, err); logFailure("ResetGame", competitionID, err) }()
	return s.start(ctx, competitionID, putting.Reset)
}

type startFunc func(putting.GameState, []putting.Participant, int, time.Time) (putting.GameState, []putting.Participant, error)

func (s *Service) start(ctx context.Context, competitionID int64, fn startFunc) (putting.Snapshot, error) {
	if competitionID <= 0 {
		return putting.Snapshot{}, errInvalidID
	}
	state, participants, err := s.loadGame(ctx, competitionID)
	if err != nil {
		return putting.Snapshot{}, err
	}
	next, ps, err := fn(state, participants, s.rosterSize, s.now())
	if err != nil {
		return putting.Snapshot{}, err
	}
	if err := s.store.SaveGameStart(ctx, next, ps); err != nil {
		return putting.Snapshot{}, err
	}
	snap := putting.Project(next, ps)
	s.notify(room.Key{CompetitionID: competitionID, Mode: room.ModePutting}, snap)
	return snap, nil
}

// SubmitAttempt records one putt for the participant holding the turn.
func (s *Service) SubmitAttempt(ctx context.Context, competitionID, participantID int64, result string) (snap putting.Snapshot, err error) {
	ctx, span := s.startSpan(ctx, "SubmitAttempt", competitionID)
	span.SetAttributes(attribute.Int64("participant.id", participantID), attribute.String("attempt.result", result))
	defer func() { endSpan(span, err); logFailure("SubmitAttempt", competitionID, err) }()

	if competitionID <= 0 || participantID <= 0 {
		return putting.Snapshot{}, errInvalidID
	}
	res, ok := putting.ParseResult(result)
	if !ok {
		return putting.Snapshot{}, putting.ErrInvalidResult
	}
	state, participants, err := s.loadGame(ctx, competitionID)
	if err != nil {
		return putting.Snapshot{}, err
	}
	out, err := putting.Apply(state, participants, putting.Attempt{
		ParticipantID: participantID,
		Result:        res,
		At:            s.now(),
	})
	if err != nil {
		return putting.Snapshot{}, err
	}
	if err := s.store.ApplyOutcome(ctx, competitionID, out); err != nil {
		return putting.Snapshot{}, err
	}
	span.SetAttributes(attribute.String("attempt.outcome", string(out.Kind)))

	snap = putting.Project(out.State, out.Participants)
	s.notify(room.Key{CompetitionID: competitionID, Mode: room.ModePutting}, snap)
	return snap, nil
}

// Attempts returns the newest journaled attempts first.
func (s *Service) Attempts(ctx context.Context, competitionID int64, limit int) ([]putting.AttemptRecord, error) {
	if competitionID <= 0 {
		return nil, errInvalidID
	}
	return s.store.Attempts(ctx, competitionID, limit)
}

// Draw picks a random eligible check-in and starts the viewer countdown.
func (s *Service) Draw(ctx context.Context, competitionID int64, finalGame bool) (res DrawResult, err error) {
	ctx, span := s.startSpan(ctx, "Draw", competitionID)
	span.SetAttributes(attribute.Bool("draw.final_game", finalGame))
	defer func() { endSpan(span, err); logFailure("Draw", competitionID, err) }()

	if competitionID <= 0 {
		return DrawResult{}, errInvalidID
	}
	mode := draw.ModeFor(finalGame)
	pool, err := s.eligiblePool(ctx, competitionID, mode)
	if err != nil {
		return DrawResult{}, err
	}

	s.rngMu.Lock()
	winner, err := draw.Pick(s.rng, pool)
	s.rngMu.Unlock()
	if err != nil {
		return DrawResult{}, err
	}

	// Draw state first: it is restored if the prize write fails.
	key := draw.Key(mode, competitionID)
	prev, hadPrev, err := s.kv.Get(ctx, key)
	if err != nil {
		return DrawResult{}, err
	}
	if err := s.putDrawState(ctx, mode, competitionID, draw.Started(pool, winner, s.now())); err != nil {
		return DrawResult{}, err
	}
	if mode == draw.ModeNormal {
		if err := s.store.MarkPrizeWon(ctx, winner.ID); err != nil {
			s.restoreDrawState(ctx, key, prev, hadPrev)
			return DrawResult{}, err
		}
	}

	roomKey := drawRoomKey(mode, competitionID)
	snap, err := s.Snapshot(ctx, roomKey)
	if err != nil {
		return DrawResult{}, err
	}
	s.notify(roomKey, snap)
	log.Printf("[Contest] %s draw for competition %d picked %q from %d", mode, competitionID, winner.Name, len(pool))
	return DrawResult{
		WinnerName:       winner.Name,
		ParticipantNames: draw.Names(pool),
		Snapshot:         snap,
	}, nil
}

// ResetDraw clears the shown winner, keeping the live pool size.
func (s *Service) ResetDraw(ctx context.Context, competitionID int64, finalGame bool) (snap any, err error) {
	ctx, span := s.startSpan(ctx, "ResetDraw", competitionID)
	span.SetAttributes(attribute.Bool("draw.final_game", finalGame))
	defer func() { endSpan(span, err); logFailure("ResetDraw", competitionID, err) }()

	if competitionID <= 0 {
		return nil, errInvalidID
	}
	mode := draw.ModeFor(finalGame)
	pool, err := s.eligiblePool(ctx, competitionID, mode)
	if err != nil {
		return nil, err
	}
	if err := s.putDrawState(ctx, mode, competitionID, draw.Idle(len(pool))); err != nil {
		return nil, err
	}
	key := drawRoomKey(mode, competitionID)
	snap, err = s.Snapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	s.notify(key, snap)
	return snap, nil
}

// ConfirmFinalGameEntrant moves a check-in into the final-game roster.
func (s *Service) ConfirmFinalGameEntrant(ctx context.Context, competitionID, checkinID int64) (snap FinalDrawSnapshot, err error) {
	ctx, span := s.startSpan(ctx, "ConfirmFinalGameEntrant", competitionID)
	span.SetAttributes(attribute.Int64("checkin.id", checkinID))
	defer func() { endSpan(span, err); logFailure("ConfirmFinalGameEntrant", competitionID, err) }()

	if competitionID <= 0 || checkinID <= 0 {
		return FinalDrawSnapshot{}, errInvalidID
	}
	if _, err := s.store.ConfirmEntrant(ctx, competitionID, checkinID, s.rosterSize); err != nil {
		return FinalDrawSnapshot{}, err
	}
	return s.notifyFinalDraw(ctx, competitionID)
}

// RemoveFinalGameEntrant drops a participant and closes the seat gap.
func (s *Service) RemoveFinalGameEntrant(ctx context.Context, competitionID, participantID int64) (snap FinalDrawSnapshot, err error) {
	ctx, span := s.startSpan(ctx, "RemoveFinalGameEntrant", competitionID)
	span.SetAttributes(attribute.Int64("participant.id", participantID))
	defer func() { endSpan(span, err); logFailure("RemoveFinalGameEntrant", competitionID, err) }()

	if competitionID <= 0 || participantID <= 0 {
		return FinalDrawSnapshot{}, errInvalidID
	}
	if err := s.store.RemoveEntrant(ctx, competitionID, participantID); err != nil {
		return FinalDrawSnapshot{}, err
	}
	return s.notifyFinalDraw(ctx, competitionID)
}

func (s *Service) notifyFinalDraw(ctx context.Context, competitionID int64) (FinalDrawSnapshot, error) {
	snap, err := s.FinalDrawSnapshot(ctx, competitionID)
	if err != nil {
		return FinalDrawSnapshot{}, err
	}
	s.notify(room.Key{CompetitionID: competitionID, Mode: room.ModeFinalDraw}, snap)
	return snap, nil
}

// CreateCheckin registers a player for the draw. Check-ins are owned by the
// wider tournament system; this covers tests and local tooling.
func (s *Service) CreateCheckin(ctx context.Context, competitionID, playerID int64, name string) (draw.Checkin, error) {
	if competitionID <= 0 || playerID <= 0 {
		return draw.Checkin{}, errInvalidID
	}
	return s.store.CreateCheckin(ctx, competitionID, playerID, name)
}

func (s *Service) putDrawState(ctx context.Context, mode draw.Mode, competitionID int64, st draw.State) error {
	raw, err := st.Encode()
	if err != nil {
		return apperr.Persistence("encode draw state", err)
	}
	return s.kv.Put(ctx, draw.Key(mode, competitionID), raw)
}

func (s *Service) restoreDrawState(ctx context.Context, key, prev string, hadPrev bool) {
	var err error
	if hadPrev {
		err = s.kv.Put(ctx, key, prev)
	} else {
		err = s.kv.Delete(ctx, key)
	}
	if err != nil {
		log.Printf("[Contest] Restoring draw state %s failed: %v", key, err)
	}
}

func drawRoomKey(mode draw.Mode, competitionID int64) room.Key {
	if mode == draw.ModeFinalGame {
		return room.Key{CompetitionID: competitionID, Mode: room.ModeFinalDraw}
	}
	return room.Key{CompetitionID: competitionID, Mode: room.ModeDraw}
}
