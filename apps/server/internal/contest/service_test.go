package contest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"putting-live/apperr"
	"putting-live/apps/server/internal/codec"
	"putting-live/apps/server/internal/kv"
	"putting-live/apps/server/internal/room"
	"putting-live/apps/server/internal/store"
	"putting-live/draw"
	"putting-live/putting"
)

type recorder struct {
	mu     sync.Mutex
	frames [][]byte
	done   chan struct{}
	once   sync.Once
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{})} }

func (r *recorder) WriteFrame(f *codec.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), f.JSON()...))
	return nil
}

func (r *recorder) Close() error {
	r.once.Do(func() { close(r.done) })
	return nil
}

func (r *recorder) Done() <-chan struct{} { return r.done }

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recorder) last(t *testing.T, dst any) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := json.Unmarshal(r.frames[len(r.frames)-1], dst); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
}

type fixture struct {
	svc   *Service
	store *store.Memory
	kv    *kv.Memory
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem, err := kv.NewMemory(64)
	if err != nil {
		t.Fatalf("kv.NewMemory err: %v", err)
	}
	f := &fixture{
		store: store.NewMemory(),
		kv:    mem,
		now:   time.Date(2026, 6, 14, 15, 0, 0, 0, time.UTC),
	}
	f.svc = New(f.store, f.kv, Options{
		Heartbeat: time.Hour,
		Rand:      rand.New(rand.NewSource(7)),
		Now:       func() time.Time { return f.now },
	})
	t.Cleanup(f.svc.Close)
	return f
}

func (f *fixture) checkins(t *testing.T, competitionID int64, n int) []draw.Checkin {
	t.Helper()
	out := make([]draw.Checkin, 0, n)
	for i := 0; i < n; i++ {
		c, err := f.svc.CreateCheckin(context.Background(), competitionID, int64(1000+i), fmt.Sprintf("Player %d", i+1))
		if err != nil {
			t.Fatalf("CreateCheckin err: %v", err)
		}
		out = append(out, c)
	}
	return out
}

func (f *fixture) roster(t *testing.T, competitionID int64, n int) []putting.Participant {
	t.Helper()
	for _, c := range f.checkins(t, competitionID, n) {
		if _, err := f.svc.ConfirmFinalGameEntrant(context.Background(), competitionID, c.ID); err != nil {
			t.Fatalf("ConfirmFinalGameEntrant err: %v", err)
		}
	}
	ps, _ := f.store.Participants(context.Background(), competitionID)
	return ps
}

func (f *fixture) watch(t *testing.T, competitionID int64, mode room.Mode) *recorder {
	t.Helper()
	w := newRecorder()
	key := room.Key{CompetitionID: competitionID, Mode: mode}
	if _, _, err := f.svc.Rooms().Subscribe(context.Background(), key, w, nil); err != nil {
		t.Fatalf("Subscribe err: %v", err)
	}
	if w.count() != 1 {
		t.Fatalf("expected initial snapshot on subscribe, got %d frames", w.count())
	}
	return w
}

func TestStartGame_RequiresFullRoster(t *testing.T) {
	f := newFixture(t)
	f.roster(t, 1, 9)
	if _, err := f.svc.StartGame(context.Background(), 1); apperr.CodeOf(err) != apperr.CodeInvalidRosterSize {
		t.Fatalf("expected invalid_roster_size, got %v", err)
	}
}

func TestStartGame_BroadcastsOnceToPuttingRoom(t *testing.T) {
	f := newFixture(t)
	ps := f.roster(t, 1, putting.DefaultRosterSize)
	w := f.watch(t, 1, room.ModePutting)

	snap, err := f.svc.StartGame(context.Background(), 1)
	if err != nil {
		t.Fatalf("StartGame err: %v", err)
	}
	if snap.PuttingGame.GameStatus != putting.StatusRunning || *snap.PuttingGame.CurrentTurnParticipantID != ps[0].ID {
		t.Fatalf("unexpected snapshot %+v", snap.PuttingGame)
	}
	if w.count() != 2 {
		t.Fatalf("expected exactly one broadcast, got %d frames", w.count())
	}
	var got putting.Snapshot
	w.last(t, &got)
	if got.PuttingGame.GameStatus != putting.StatusRunning {
		t.Fatalf("expected broadcast of running game, got %q", got.PuttingGame.GameStatus)
	}

	if _, err := f.svc.StartGame(context.Background(), 1); !errors.Is(err, putting.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if w.count() != 2 {
		t.Fatalf("expected no broadcast for rejected start")
	}
}

func TestSubmitAttempt_AdvancesTurnAndRejectsOthers(t *testing.T) {
	f := newFixture(t)
	ps := f.roster(t, 2, putting.DefaultRosterSize)
	ctx := context.Background()

	if _, err := f.svc.SubmitAttempt(ctx, 2, ps[0].ID, "in"); !errors.Is(err, putting.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning before start, got %v", err)
	}
	if _, err := f.svc.StartGame(ctx, 2); err != nil {
		t.Fatalf("StartGame err: %v", err)
	}
	w := f.watch(t, 2, room.ModePutting)

	if _, err := f.svc.SubmitAttempt(ctx, 2, ps[1].ID, "in"); !errors.Is(err, putting.ErrNotCurrentTurn) {
		t.Fatalf("expected ErrNotCurrentTurn, got %v", err)
	}
	if _, err := f.svc.SubmitAttempt(ctx, 2, ps[0].ID, "maybe"); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	snap, err := f.svc.SubmitAttempt(ctx, 2, ps[0].ID, "in")
	if err != nil {
		t.Fatalf("SubmitAttempt err: %v", err)
	}
	if *snap.PuttingGame.CurrentTurnParticipantID != ps[1].ID {
		t.Fatalf("expected turn to pass to seat 2")
	}
	if w.count() != 2 {
		t.Fatalf("expected one broadcast for the accepted attempt only, got %d frames", w.count())
	}
	journal, _ := f.svc.Attempts(ctx, 2, 10)
	if len(journal) != 1 || journal[0].ParticipantID != ps[0].ID {
		t.Fatalf("unexpected journal %+v", journal)
	}
}

func TestSubmitAttempt_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	ps := f.roster(t, 3, putting.DefaultRosterSize)
	ctx := context.Background()
	if _, err := f.svc.StartGame(ctx, 3); err != nil {
		t.Fatalf("StartGame err: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.SubmitAttempt(ctx, 3, ps[0].ID, "out")
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
		t.Fatalf("expected one success and one not_current_turn, got ok=%d stale=%d", ok, stale)
	}
}

type failingStore struct {
	*store.Memory
}

func (failingStore) ApplyOutcome(context.Context, int64, putting.Outcome) error {
	return apperr.Persistence("apply outcome", errors.New("disk full"))
}

func TestSubmitAttempt_PersistenceFailureDoesNotBroadcast(t *testing.T) {
	f := newFixture(t)
	ps := f.roster(t, 4, putting.DefaultRosterSize)
	ctx := context.Background()
	if _, err := f.svc.StartGame(ctx, 4); err != nil {
		t.Fatalf("StartGame err: %v", err)
	}

	broken := New(failingStore{f.store}, f.kv, Options{Heartbeat: time.Hour})
	defer broken.Close()
	w := newRecorder()
	key := room.Key{CompetitionID: 4, Mode: room.ModePutting}
	if _, _, err := broken.Rooms().Subscribe(ctx, key, w, nil); err != nil {
		t.Fatalf("Subscribe err: %v", err)
	}

	if _, err := broken.SubmitAttempt(ctx, 4, ps[0].ID, "in"); apperr.KindOf(err) != apperr.KindPersistence {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if w.count() != 1 {
		t.Fatalf("expected no broadcast after failed write, got %d frames", w.count())
	}
	state, _ := f.store.GameState(ctx, 4)
	if !state.IsTurn(ps[0].ID) {
		t.Fatalf("expected canonical state unchanged")
	}
}

func TestDraw_NormalModeMarksWinnerAndStartsCountdown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.checkins(t, 5, 4)
	w := f.watch(t, 5, room.ModeDraw)

	res, err := f.svc.Draw(ctx, 5, false)
	if err != nil {
		t.Fatalf("Draw err: %v", err)
	}
	if len(res.ParticipantNames) != 4 {
		t.Fatalf("expected 4 names in pool, got %v", res.ParticipantNames)
	}
	view, ok := res.Snapshot.(draw.View)
	if !ok {
		t.Fatalf("expected draw.View snapshot, got %T", res.Snapshot)
	}
	if view.Countdown == nil || *view.Countdown != 3 || view.ParticipantCount != 4 {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.WinnerName == nil || *view.WinnerName != res.WinnerName {
		t.Fatalf("expected winner in snapshot")
	}
	if w.count() != 2 {
		t.Fatalf("expected one broadcast, got %d frames", w.count())
	}

	checkins, _ := f.store.Checkins(ctx, 5)
	won := 0
	for _, c := range checkins {
		if c.PrizeWon {
			won++
			if c.Name != res.WinnerName {
				t.Fatalf("expected %q marked, got %q", res.WinnerName, c.Name)
			}
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one prize winner, got %d", won)
	}

	f.now = f.now.Add(5 * time.Second)
	later, _ := f.svc.DrawSnapshot(ctx, 5)
	if later.Countdown == nil || *later.Countdown != 0 {
		t.Fatalf("expected countdown floored at 0, got %v", later.Countdown)
	}
}

func TestDraw_ReconnectReadsCurrentCountdown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.checkins(t, 5, 3)
	if _, err := f.svc.Draw(ctx, 5, false); err != nil {
		t.Fatalf("Draw err: %v", err)
	}

	f.now = f.now.Add(time.Minute)
	w := f.watch(t, 5, room.ModeDraw)
	var view draw.View
	w.last(t, &view)
	if view.Countdown == nil || *view.Countdown != 0 {
		t.Fatalf("expected a late viewer to see countdown 0, got %v", view.Countdown)
	}
	if view.WinnerName == nil {
		t.Fatalf("expected the drawn winner to still be shown")
	}
}

type failingKV struct{ kv.Store }

func (failingKV) Put(context.Context, string, string) error {
	return apperr.Persistence("kv put", errors.New("kv down"))
}

type prizeFailStore struct {
	*store.Memory
}

func (prizeFailStore) MarkPrizeWon(context.Context, int64) error {
	return apperr.Persistence("mark prize", errors.New("disk full"))
}

func prizesWon(t *testing.T, st store.Store, competitionID int64) int {
	t.Helper()
	checkins, err := st.Checkins(context.Background(), competitionID)
	if err != nil {
		t.Fatalf("Checkins err: %v", err)
	}
	won := 0
	for _, c := range checkins {
		if c.PrizeWon {
			won++
		}
	}
	return won
}

func TestDraw_EphemeralFailureMarksNoPrize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.checkins(t, 11, 3)

	broken := New(f.store, failingKV{f.kv}, Options{Heartbeat: time.Hour})
	defer broken.Close()
	w := newRecorder()
	key := room.Key{CompetitionID: 11, Mode: room.ModeDraw}
	if _, _, err := broken.Rooms().Subscribe(ctx, key, w, nil); err != nil {
		t.Fatalf("Subscribe err: %v", err)
	}

	if _, err := broken.Draw(ctx, 11, false); apperr.KindOf(err) != apperr.KindPersistence {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if won := prizesWon(t, f.store, 11); won != 0 {
		t.Fatalf("expected no prize marked after failed draw, got %d", won)
	}
	if w.count() != 1 {
		t.Fatalf("expected no broadcast after failed draw, got %d frames", w.count())
	}
}

func TestDraw_PrizeFailureRestoresDrawState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.checkins(t, 12, 3)
	if _, err := f.svc.ResetDraw(ctx, 12, false); err != nil {
		t.Fatalf("ResetDraw err: %v", err)
	}
	before, _, _ := f.kv.Get(ctx, draw.Key(draw.ModeNormal, 12))

	broken := New(prizeFailStore{f.store}, f.kv, Options{Heartbeat: time.Hour})
	defer broken.Close()
	if _, err := broken.Draw(ctx, 12, false); apperr.KindOf(err) != apperr.KindPersistence {
		t.Fatalf("expected persistence error, got %v", err)
	}
	after, ok, _ := f.kv.Get(ctx, draw.Key(draw.ModeNormal, 12))
	if !ok || after != before {
		t.Fatalf("expected draw state restored to %q, got %q", before, after)
	}

	f.checkins(t, 13, 2)
	if _, err := broken.Draw(ctx, 13, false); apperr.KindOf(err) != apperr.KindPersistence {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if _, ok, _ := f.kv.Get(ctx, draw.Key(draw.ModeNormal, 13)); ok {
		t.Fatalf("expected no draw state left behind")
	}
}

func TestDraw_EmptyPoolLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, c := range f.checkins(t, 6, 2) {
		_ = f.store.MarkPrizeWon(ctx, c.ID)
	}
	if _, err := f.svc.Draw(ctx, 6, false); !errors.Is(err, draw.ErrNoEligiblePlayers) {
		t.Fatalf("expected ErrNoEligiblePlayers, got %v", err)
	}
	if _, ok, _ := f.kv.Get(ctx, draw.Key(draw.ModeNormal, 6)); ok {
		t.Fatalf("expected no draw state written")
	}
}

func TestDraw_FinalModeSkipsRosterAndKeepsPrizes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.roster(t, 7, 3)
	extra, _ := f.svc.CreateCheckin(ctx, 7, 5000, "Outsider")
	w := f.watch(t, 7, room.ModeFinalDraw)

	for i := 0; i < 5; i++ {
		res, err := f.svc.Draw(ctx, 7, true)
		if err != nil {
			t.Fatalf("Draw err: %v", err)
		}
		if res.WinnerName != extra.Name {
			t.Fatalf("expected only non-roster check-in drawn, got %q", res.WinnerName)
		}
	}
	checkins, _ := f.store.Checkins(ctx, 7)
	for _, c := range checkins {
		if c.PrizeWon {
			t.Fatalf("final-game draw must not mark prizes")
		}
	}
	var snap FinalDrawSnapshot
	w.last(t, &snap)
	if len(snap.FinalGameParticipants) != 3 || snap.WinnerName == nil || *snap.WinnerName != "Outsider" {
		t.Fatalf("unexpected final draw snapshot %+v", snap)
	}
}

func TestResetDraw_ShowsLivePoolSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.checkins(t, 8, 3)
	if _, err := f.svc.Draw(ctx, 8, false); err != nil {
		t.Fatalf("Draw err: %v", err)
	}
	snap, err := f.svc.ResetDraw(ctx, 8, false)
	if err != nil {
		t.Fatalf("ResetDraw err: %v", err)
	}
	view := snap.(draw.View)
	if view.ParticipantCount != 2 || view.WinnerName != nil || view.Countdown != nil {
		t.Fatalf("unexpected reset view %+v", view)
	}
}

func TestRosterChanges_BroadcastToFinalDraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.checkins(t, 9, putting.DefaultRosterSize)
	w := f.watch(t, 9, room.ModeFinalDraw)

	var last FinalDrawSnapshot
	for i, c := range cs {
		snap, err := f.svc.ConfirmFinalGameEntrant(ctx, 9, c.ID)
		if err != nil {
			t.Fatalf("confirm err: %v", err)
		}
		if w.count() != i+2 {
			t.Fatalf("expected one broadcast per confirm, got %d frames", w.count())
		}
		last = snap
	}
	if last.ParticipantCount != putting.DefaultRosterSize || len(last.ParticipantNames) != putting.DefaultRosterSize {
		t.Fatalf("expected full roster view, got %+v", last.View)
	}

	snap, err := f.svc.RemoveFinalGameEntrant(ctx, 9, last.FinalGameParticipants[0].ID)
	if err != nil {
		t.Fatalf("remove err: %v", err)
	}
	for i, e := range snap.FinalGameParticipants {
		if e.Order != i+1 {
			t.Fatalf("expected contiguous order after remove, got %+v", snap.FinalGameParticipants)
		}
	}
	if snap.ParticipantCount != 1 {
		t.Fatalf("expected the removed player back in the eligible pool, got %d", snap.ParticipantCount)
	}
}

func TestConfirm_LockedWhileGameRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.roster(t, 10, putting.DefaultRosterSize)
	if _, err := f.svc.StartGame(ctx, 10); err != nil {
		t.Fatalf("StartGame err: %v", err)
	}
	late, _ := f.svc.CreateCheckin(ctx, 10, 9999, "Late")
	if _, err := f.svc.ConfirmFinalGameEntrant(ctx, 10, late.ID); !errors.Is(err, putting.ErrGameStarted) {
		t.Fatalf("expected ErrGameStarted, got %v", err)
	}
}

func TestActions_RejectInvalidIDs(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.StartGame(context.Background(), 0); apperr.CodeOf(err) != apperr.CodeInvalidInput {
		t.Fatalf("expected invalid_input, got %v", err)
	}
	if _, err := f.svc.Snapshot(context.Background(), room.Key{CompetitionID: 1, Mode: "lobby"}); err == nil {
		t.Fatalf("expected unknown mode error")
	}
}

func TestLogFailure_QuietOnSuccess(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	f := newFixture(t)
	f.checkins(t, 14, 2)
	if _, err := f.svc.Draw(context.Background(), 14, false); err != nil {
		t.Fatalf("Draw err: %v", err)
	}
	logFailure("Draw", 14, nil)
	if bytes.Contains(buf.Bytes(), []byte("failed")) {
		t.Fatalf("expected no failure logged on success, got %q", buf.String())
	}

	logFailure("Draw", 14, apperr.Persistence("mark prize", errors.New("disk full")))
	if !bytes.Contains(buf.Bytes(), []byte("[Contest] Draw failed for competition 14")) {
		t.Fatalf("expected persistence failure logged, got %q", buf.String())
	}
}
