package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typeracer/go/internal/models"
	"github.com/mcdev12/typeracer/go/internal/race"
	"github.com/mcdev12/typeracer/go/internal/race/events"
	"github.com/mcdev12/typeracer/go/internal/race/scheduler"
	"github.com/mcdev12/typeracer/go/internal/race/store"
	"github.com/mcdev12/typeracer/go/internal/race/words"
)

const waitTimeout = 2 * time.Second

type sent struct {
	sessionID uuid.UUID
	msg       *events.Outbound
}

// recorder is a Broadcaster that keeps everything it was asked to deliver.
type recorder struct {
	mu      sync.Mutex
	members map[uuid.UUID][]string
	direct  map[string][]*events.Outbound
	all     []sent
	feed    chan sent
}

func newRecorder() *recorder {
	return &recorder{
		members: make(map[uuid.UUID][]string),
		direct:  make(map[string][]*events.Outbound),
		feed:    make(chan sent, 4096),
	}
}

func (r *recorder) Join(sessionID uuid.UUID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[sessionID] = append(r.members[sessionID], connID)
}

func (r *recorder) Broadcast(sessionID uuid.UUID, msg *events.Outbound) {
	r.mu.Lock()
	r.all = append(r.all, sent{sessionID, msg})
	r.mu.Unlock()
	r.feed <- sent{sessionID, msg}
}

func (r *recorder) SendTo(connID string, msg *events.Outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct[connID] = append(r.direct[connID], msg)
}

func (r *recorder) broadcasts() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.all...)
}

func (r *recorder) directTo(connID string) []*events.Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*events.Outbound(nil), r.direct[connID]...)
}

func (r *recorder) membersOf(sessionID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.members[sessionID]...)
}

// next consumes broadcasts until one of typ arrives.
func (r *recorder) next(t *testing.T, typ events.OutboundType) *events.Outbound {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case s := <-r.feed:
			if s.msg.Type == typ {
				return s.msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
			return nil
		}
	}
}

func (r *recorder) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case s := <-r.feed:
		t.Fatalf("unexpected broadcast %s", s.msg.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (s *sinkRecorder) Enqueue(e *events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *sinkRecorder) types() []events.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

// flakyStore fails saves on demand.
type flakyStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	failSave bool
	saves    int
}

func (f *flakyStore) Save(ctx context.Context, s *models.Session) (*models.Session, error) {
	f.mu.Lock()
	fail := f.failSave
	f.saves++
	f.mu.Unlock()
	if fail {
		return nil, errors.New("disk full")
	}
	return f.MemoryStore.Save(ctx, s)
}

func (f *flakyStore) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSave = v
}

func (f *flakyStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

type failingSource struct{}

func (failingSource) Fetch(ctx context.Context) ([]string, error) {
	return nil, fmt.Errorf("%w: quote api down", words.ErrSourceUnavailable)
}

type fixture struct {
	hub   *Hub
	clock *clockwork.FakeClock
	store *flakyStore
	out   *recorder
	sink  *sinkRecorder
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	return newFixtureWithText(t, cfg, "the quick fox")
}

func newFixtureWithText(t *testing.T, cfg Config, text string) *fixture {
	t.Helper()
	f := &fixture{
		clock: clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)),
		store: &flakyStore{MemoryStore: store.NewMemoryStore()},
		out:   newRecorder(),
		sink:  &sinkRecorder{},
	}
	f.hub = New(cfg, f.store, words.NewStaticSource(text), f.out,
		WithClock(f.clock),
		WithEventSink(f.sink),
	)
	t.Cleanup(f.hub.Shutdown)
	return f
}

// tick advances the fake clock one second and waits for the resulting clock broadcast.
func (f *fixture) tick(t *testing.T) events.CountdownTick {
	t.Helper()
	f.clock.Advance(time.Second)
	return f.out.next(t, events.OutboundCountdownTick).Data.(events.CountdownTick)
}

func (f *fixture) blockOnTimer(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := f.clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("timer never registered: %v", err)
	}
}

// seedRacing stores a session already in Racing with the given players.
// Player i is seated on connection "c<i>".
func (f *fixture) seedRacing(t *testing.T, names ...string) *models.Session {
	t.Helper()
	m := race.NewMachine(f.clock)
	s := m.CreateSession([]string{"the", "quick", "fox"}, names[0])
	for _, name := range names[1:] {
		s, _, _ = m.JoinSession(s, name)
	}
	s, _ = m.BeginCountdown(s, s.Leader().ID)
	s, _ = m.StartRace(s)
	saved, err := f.store.MemoryStore.Save(context.Background(), s)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	e := f.hub.acquire(saved.ID)
	e.mu.Lock()
	for i, p := range saved.Players {
		e.seats[p.ID] = fmt.Sprintf("c%d", i)
	}
	e.mu.Unlock()
	return saved
}

func rejectedCode(t *testing.T, msgs []*events.Outbound) events.RejectCode {
	t.Helper()
	if len(msgs) == 0 {
		t.Fatal("expected a rejection")
	}
	last := msgs[len(msgs)-1]
	if last.Type != events.OutboundRejected {
		t.Fatalf("expected rejected, got %s", last.Type)
	}
	return last.Data.(events.Rejected).Code
}

func TestFullRace(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	s, err := f.hub.CreateSession(ctx, "c1", "A")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := f.out.next(t, events.OutboundSessionUpdated).Data.(*models.Session); got.Phase != models.PhaseOpen {
		t.Fatalf("Expected OPEN snapshot, got %s", got.Phase)
	}
	leader := s.Leader()

	b, err := f.hub.JoinSession(ctx, "c2", s.ID, "B")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if got := f.out.next(t, events.OutboundSessionUpdated).Data.(*models.Session); len(got.Players) != 2 {
		t.Fatalf("Expected 2 players, got %d", len(got.Players))
	}
	if members := f.out.membersOf(s.ID); len(members) != 2 {
		t.Fatalf("Expected 2 members, got %v", members)
	}

	if err := f.hub.BeginCountdown(ctx, "c1", s.ID, leader.ID); err != nil {
		t.Fatalf("begin countdown: %v", err)
	}
	if got := f.out.next(t, events.OutboundSessionUpdated).Data.(*models.Session); got.Phase != models.PhaseCountingDown {
		t.Fatalf("Expected COUNTING_DOWN, got %s", got.Phase)
	}
	f.blockOnTimer(t)

	for want := 5; want >= 0; want-- {
		tick := f.tick(t)
		if tick.CountDown != want || tick.Msg != events.MsgStartingGame {
			t.Fatalf("Expected countdown %d, got %+v", want, tick)
		}
	}

	f.clock.Advance(time.Second)
	racing := f.out.next(t, events.OutboundSessionUpdated).Data.(*models.Session)
	if racing.Phase != models.PhaseRacing || racing.StartTime == nil {
		t.Fatalf("Expected RACING with start time, got %s", racing.Phase)
	}
	first := f.out.next(t, events.OutboundCountdownTick).Data.(events.CountdownTick)
	if first.CountDown != "2:00" || first.Msg != events.MsgTimeRemaining {
		t.Fatalf("Expected immediate 2:00 tick, got %+v", first)
	}

	for i := 0; i < 30; i++ {
		f.tick(t)
	}

	for _, word := range []string{"the", "quick", "fox"} {
		if err := f.hub.SubmitWord(ctx, "c1", s.ID, leader.ID, word); err != nil {
			t.Fatalf("submit %q: %v", word, err)
		}
		f.out.next(t, events.OutboundSessionUpdated)
	}
	done := f.out.directTo("c1")
	if len(done) != 1 || done[0].Type != events.OutboundRaceDone {
		t.Fatalf("Expected private race-done, got %v", done)
	}
	if wpm := done[0].Data.(events.RaceDone).WPM; wpm != 6 {
		t.Errorf("Expected WPM 6, got %d", wpm)
	}
	if len(f.out.directTo("c2")) != 0 {
		t.Error("race-done must only reach the finishing player")
	}

	f.hub.SubmitWord(ctx, "c2", s.ID, b.ID, "the")
	f.out.next(t, events.OutboundSessionUpdated)
	f.hub.SubmitWord(ctx, "c2", s.ID, b.ID, "wrong")

	var last events.CountdownTick
	for i := 0; i < 90; i++ {
		last = f.tick(t)
	}
	if last.CountDown != "0:00" {
		t.Fatalf("Expected clock to reach 0:00, got %v", last.CountDown)
	}

	f.clock.Advance(time.Second)
	finished := f.out.next(t, events.OutboundSessionUpdated).Data.(*models.Session)
	if finished.Phase != models.PhaseFinished {
		t.Fatalf("Expected FINISHED, got %s", finished.Phase)
	}
	standings := f.out.next(t, events.OutboundRaceFinished).Data.(events.RaceFinished).Standings
	if standings[0].PlayerID != leader.ID || standings[1].WordsPerMinute != 0 {
		t.Errorf("Unexpected standings %+v", standings)
	}

	stored, _ := f.hub.Session(ctx, s.ID)
	p, _ := stored.Player(b.ID)
	if stored.Phase != models.PhaseFinished || p.CurrentWordIndex != 1 || p.WordsPerMinute != 0 {
		t.Errorf("Unexpected stored state %+v / %+v", stored.Phase, p)
	}

	f.clock.Advance(time.Second)
	f.out.assertQuiet(t)

	want := []events.EventType{
		events.EventTypeSessionCreated,
		events.EventTypePlayerJoined,
		events.EventTypeCountdownStarted,
		events.EventTypeRaceStarted,
	}
	got := f.sink.types()
	for i, typ := range want {
		if got[i] != typ {
			t.Fatalf("Outbox event %d: expected %s, got %v", i, typ, got)
		}
	}
	if got[len(got)-1] != events.EventTypeRaceFinished {
		t.Errorf("Expected RaceFinished last, got %v", got)
	}
}

func TestBeginCountdown_Rejections(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	s, _ := f.hub.CreateSession(ctx, "c1", "A")
	b, _ := f.hub.JoinSession(ctx, "c2", s.ID, "B")
	before := len(f.out.broadcasts())

	err := f.hub.BeginCountdown(ctx, "c2", s.ID, b.ID)
	if !errors.Is(err, race.ErrNotAuthorized) {
		t.Fatalf("Expected ErrNotAuthorized, got %v", err)
	}
	if code := rejectedCode(t, f.out.directTo("c2")); code != events.CodeNotAuthorized {
		t.Errorf("Expected NOT_AUTHORIZED, got %s", code)
	}
	if len(f.out.directTo("c1")) != 0 {
		t.Error("Rejection must only reach the originator")
	}
	if len(f.out.broadcasts()) != before {
		t.Error("Rejected events must not broadcast")
	}

	if err := f.hub.BeginCountdown(ctx, "c1", s.ID, s.Leader().ID); err != nil {
		t.Fatalf("begin countdown: %v", err)
	}
	if err := f.hub.BeginCountdown(ctx, "c1", s.ID, s.Leader().ID); !errors.Is(err, race.ErrInvalidPhase) {
		t.Errorf("Expected ErrInvalidPhase on duplicate countdown, got %v", err)
	}
	if code := rejectedCode(t, f.out.directTo("c1")); code != events.CodeInvalidPhase {
		t.Errorf("Expected INVALID_PHASE, got %s", code)
	}

	// one countdown only: the first Advance yields exactly one tick
	f.blockOnTimer(t)
	f.out.next(t, events.OutboundSessionUpdated)
	f.out.next(t, events.OutboundSessionUpdated)
	f.out.next(t, events.OutboundSessionUpdated)
	if tick := f.tick(t); tick.CountDown != 5 {
		t.Fatalf("Expected 5, got %v", tick.CountDown)
	}
	f.out.assertQuiet(t)
}

func TestForeignPlayerRejected(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	s, _ := f.hub.CreateSession(ctx, "c1", "A")
	f.hub.JoinSession(ctx, "c2", s.ID, "B")
	before := len(f.out.broadcasts())

	// B read the leader's ID from a broadcast and tries to start the race
	err := f.hub.BeginCountdown(ctx, "c2", s.ID, s.Leader().ID)
	if !errors.Is(err, race.ErrNotAuthorized) {
		t.Fatalf("Expected ErrNotAuthorized, got %v", err)
	}
	if code := rejectedCode(t, f.out.directTo("c2")); code != events.CodeNotAuthorized {
		t.Errorf("Expected NOT_AUTHORIZED, got %s", code)
	}
	if len(f.out.broadcasts()) != before {
		t.Error("Rejected countdown must not broadcast")
	}
	if f.hub.timers.Active(s.ID, scheduler.KindCountdown) {
		t.Error("Rejected countdown must not arm a timer")
	}
	if stored, _ := f.hub.Session(ctx, s.ID); stored.Phase != models.PhaseOpen {
		t.Errorf("Expected OPEN, got %s", stored.Phase)
	}

	racing := f.seedRacing(t, "R", "S")
	leaderID := racing.Leader().ID
	err = f.hub.SubmitWord(ctx, "c1", racing.ID, leaderID, "the")
	if !errors.Is(err, race.ErrNotAuthorized) {
		t.Fatalf("Expected ErrNotAuthorized typing for another player, got %v", err)
	}
	stored, _ := f.hub.Session(ctx, racing.ID)
	if p, _ := stored.Player(leaderID); p.CurrentWordIndex != 0 {
		t.Errorf("Foreign submission must not advance, got index %d", p.CurrentWordIndex)
	}

	if err := f.hub.SubmitWord(ctx, "c0", racing.ID, leaderID, "the"); err != nil {
		t.Fatalf("owner submit: %v", err)
	}
	stored, _ = f.hub.Session(ctx, racing.ID)
	if p, _ := stored.Player(leaderID); p.CurrentWordIndex != 1 {
		t.Errorf("Expected index 1, got %d", p.CurrentWordIndex)
	}
}

func TestBeginCountdown_SchedulerStopped(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	s, _ := f.hub.CreateSession(ctx, "c1", "A")
	f.hub.Shutdown()
	before := len(f.out.broadcasts())
	saves := f.store.saveCount()

	err := f.hub.BeginCountdown(ctx, "c1", s.ID, s.Leader().ID)
	if !errors.Is(err, scheduler.ErrStopped) {
		t.Fatalf("Expected ErrStopped, got %v", err)
	}
	if code := rejectedCode(t, f.out.directTo("c1")); code != events.CodeInternal {
		t.Errorf("Expected INTERNAL, got %s", code)
	}
	if f.store.saveCount() != saves || len(f.out.broadcasts()) != before {
		t.Error("A countdown that cannot run must not be saved or broadcast")
	}
	if stored, _ := f.hub.Session(ctx, s.ID); stored.Phase != models.PhaseOpen {
		t.Errorf("Expected session to stay OPEN, got %s", stored.Phase)
	}
}

func TestBeginCountdown_SaveFailureDisarmsTimer(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	s, _ := f.hub.CreateSession(ctx, "c1", "A")
	f.store.setFail(true)
	if err := f.hub.BeginCountdown(ctx, "c1", s.ID, s.Leader().ID); err == nil {
		t.Fatal("Expected save error")
	}
	if f.hub.timers.Active(s.ID, scheduler.KindCountdown) {
		t.Fatal("Failed save must cancel the countdown")
	}

	f.store.setFail(false)
	if err := f.hub.BeginCountdown(ctx, "c1", s.ID, s.Leader().ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	f.blockOnTimer(t)
	if tick := f.tick(t); tick.CountDown != 5 {
		t.Errorf("Expected 5, got %v", tick.CountDown)
	}
}

func TestExpiry_PartialProgressWPM(t *testing.T) {
	f := newFixtureWithText(t, DefaultConfig(), "one two three four five six seven eight nine ten eleven twelve")
	ctx := context.Background()

	s, _ := f.hub.CreateSession(ctx, "c1", "A")
	leader := s.Leader()
	f.hub.BeginCountdown(ctx, "c1", s.ID, leader.ID)
	f.blockOnTimer(t)
	for i := 0; i < 6; i++ {
		f.tick(t)
	}
	f.clock.Advance(time.Second)
	if first := f.out.next(t, events.OutboundCountdownTick).Data.(events.CountdownTick); first.CountDown != "2:00" {
		t.Fatalf("Expected 2:00, got %v", first.CountDown)
	}

	for _, word := range s.Words[:10] {
		if err := f.hub.SubmitWord(ctx, "c1", s.ID, leader.ID, word); err != nil {
			t.Fatalf("submit %q: %v", word, err)
		}
	}

	var last events.CountdownTick
	for i := 0; i < 120; i++ {
		last = f.tick(t)
	}
	if last.CountDown != "0:00" {
		t.Fatalf("Expected 0:00, got %v", last.CountDown)
	}
	f.clock.Advance(time.Second)
	standings := f.out.next(t, events.OutboundRaceFinished).Data.(events.RaceFinished).Standings

	// 10 words over the 121 seconds between race start and expiry: floor(10 / (121/60)) = 4
	if standings[0].WordsPerMinute != 4 || standings[0].WordsTyped != 10 || standings[0].Completed {
		t.Errorf("Unexpected standing %+v", standings[0])
	}
	stored, _ := f.hub.Session(ctx, s.ID)
	if p, _ := stored.Player(leader.ID); p.WordsPerMinute != 4 {
		t.Errorf("Expected stored WPM 4, got %d", p.WordsPerMinute)
	}
	if got := stored.FinishedAt.Sub(*stored.StartTime); got != 121*time.Second {
		t.Errorf("Expected expiry 121s after start, got %s", got)
	}
}

// recordedStore reports fixed standings as if they had been persisted on finish.
type recordedStore struct {
	*store.MemoryStore
	rows []race.Standing
}

func (r *recordedStore) LoadResults(ctx context.Context, id uuid.UUID) ([]race.Standing, error) {
	if _, err := r.Load(ctx, id); err != nil {
		return nil, err
	}
	return r.rows, nil
}

func TestResults(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	racing := f.seedRacing(t, "A", "B")
	if rows, err := f.hub.Results(ctx, racing.ID); err != nil || rows != nil {
		t.Errorf("Racing session has no results, got %v / %v", rows, err)
	}
	if _, err := f.hub.Results(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	finished, _ := race.NewMachine(f.clock).ExpireRace(racing)
	f.store.MemoryStore.Save(ctx, finished)
	rows, err := f.hub.Results(ctx, racing.ID)
	if err != nil || len(rows) != 2 {
		t.Fatalf("Expected standings computed from the snapshot, got %v / %v", rows, err)
	}

	recorded := &recordedStore{
		MemoryStore: store.NewMemoryStore(),
		rows:        []race.Standing{{Rank: 1, Name: "recorded", WordsPerMinute: 42}},
	}
	saved, _ := recorded.Save(ctx, finished)
	h := New(DefaultConfig(), recorded, words.NewStaticSource("x"), newRecorder())
	defer h.Shutdown()
	rows, err = h.Results(ctx, saved.ID)
	if err != nil || len(rows) != 1 || rows[0].Name != "recorded" {
		t.Errorf("Expected recorded standings, got %v / %v", rows, err)
	}
}

func TestCreateSession_SourceUnavailable(t *testing.T) {
	out := newRecorder()
	st := store.NewMemoryStore()
	h := New(DefaultConfig(), st, failingSource{}, out)
	defer h.Shutdown()

	_, err := h.CreateSession(context.Background(), "c1", "A")
	if !errors.Is(err, words.ErrSourceUnavailable) {
		t.Fatalf("Expected ErrSourceUnavailable, got %v", err)
	}
	if code := rejectedCode(t, out.directTo("c1")); code != events.CodeSourceUnavailable {
		t.Errorf("Expected SOURCE_UNAVAILABLE, got %s", code)
	}
	if st.Len() != 0 || len(out.broadcasts()) != 0 {
		t.Error("Failed create must not persist or broadcast")
	}
}

func TestJoinSession_NotFound(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	_, err := f.hub.JoinSession(context.Background(), "c1", uuid.New(), "B")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if code := rejectedCode(t, f.out.directTo("c1")); code != events.CodeSessionNotFound {
		t.Errorf("Expected SESSION_NOT_FOUND, got %s", code)
	}
	if f.hub.ActiveSessions() != 0 {
		t.Error("Unknown sessions must not leave an entry behind")
	}
}

func TestJoinSession_Closed(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	s := f.seedRacing(t, "A")

	_, err := f.hub.JoinSession(context.Background(), "late", s.ID, "Z")
	if !errors.Is(err, race.ErrSessionClosed) {
		t.Fatalf("Expected ErrSessionClosed, got %v", err)
	}
	if code := rejectedCode(t, f.out.directTo("late")); code != events.CodeSessionClosed {
		t.Errorf("Expected SESSION_CLOSED, got %s", code)
	}
	if len(f.out.membersOf(s.ID)) != 0 {
		t.Error("Rejected joiner must not be added to the session")
	}
}

func TestPersistenceFailure(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	s, _ := f.hub.CreateSession(ctx, "c1", "A")
	before := len(f.out.broadcasts())

	f.store.setFail(true)
	_, err := f.hub.JoinSession(ctx, "c2", s.ID, "B")
	if err == nil {
		t.Fatal("Expected save error")
	}
	if code := rejectedCode(t, f.out.directTo("c2")); code != events.CodeInternal {
		t.Errorf("Expected INTERNAL, got %s", code)
	}
	if msg := f.out.directTo("c2")[0].Data.(events.Rejected).Message; msg != "internal error" {
		t.Errorf("Internal errors must not leak details, got %q", msg)
	}
	if len(f.out.broadcasts()) != before {
		t.Error("Failed save must not broadcast")
	}
	if len(f.out.membersOf(s.ID)) != 1 {
		t.Error("Failed join must not add the connection")
	}

	stored, _ := f.hub.Session(ctx, s.ID)
	if len(stored.Players) != 1 {
		t.Errorf("Stored session must be unchanged, got %d players", len(stored.Players))
	}
}

func TestSubmitWord_NoChangeSkipsSave(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	s, _ := f.hub.CreateSession(ctx, "c1", "A")
	before := len(f.out.broadcasts())

	// Open session ignores typing
	if err := f.hub.SubmitWord(ctx, "c1", s.ID, s.Leader().ID, "the"); err != nil {
		t.Fatalf("Expected silent ignore, got %v", err)
	}

	racing := f.seedRacing(t, "R")
	saves := f.store.saveCount()
	if err := f.hub.SubmitWord(ctx, "c0", racing.ID, racing.Leader().ID, "nope"); err != nil {
		t.Fatalf("Expected silent ignore, got %v", err)
	}

	if f.store.saveCount() != saves {
		t.Error("Unchanged sessions must not be saved")
	}
	if len(f.out.broadcasts()) != before {
		t.Error("Unchanged sessions must not be broadcast")
	}

	err := f.hub.SubmitWord(ctx, "c1", racing.ID, uuid.New(), "the")
	if code := rejectedCode(t, f.out.directTo("c1")); !errors.Is(err, race.ErrPlayerNotFound) || code != events.CodePlayerNotFound {
		t.Errorf("Expected PLAYER_NOT_FOUND, got %v / %s", err, code)
	}
}

func TestConcurrentSubmissions(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	names := []string{"p0", "p1", "p2", "p3", "p4", "p5", "p6", "p7"}
	s := f.seedRacing(t, names...)

	var wg sync.WaitGroup
	for i, p := range s.Players {
		wg.Add(1)
		go func(connID string, playerID uuid.UUID) {
			defer wg.Done()
			for _, word := range s.Words {
				if err := f.hub.SubmitWord(ctx, connID, s.ID, playerID, word); err != nil {
					t.Errorf("submit: %v", err)
				}
			}
		}(fmt.Sprintf("c%d", i), p.ID)
	}
	wg.Wait()

	stored, _ := f.hub.Session(ctx, s.ID)
	for _, p := range stored.Players {
		if p.CurrentWordIndex != len(s.Words) {
			t.Errorf("Player %s stopped at %d", p.Name, p.CurrentWordIndex)
		}
		if !p.HasScore() {
			t.Errorf("Player %s has no WPM", p.Name)
		}
	}

	// broadcasts form one total order: each snapshot is exactly one word ahead of the previous
	progress := 0
	updates := 0
	for _, b := range f.out.broadcasts() {
		if b.msg.Type != events.OutboundSessionUpdated {
			continue
		}
		updates++
		total := 0
		for _, p := range b.msg.Data.(*models.Session).Players {
			total += p.CurrentWordIndex
		}
		if total != progress+1 {
			t.Fatalf("Broadcast %d: expected total progress %d, got %d", updates, progress+1, total)
		}
		progress = total
	}
	if updates != len(names)*len(s.Words) {
		t.Errorf("Expected %d updates, got %d", len(names)*len(s.Words), updates)
	}
	if stored.Phase != models.PhaseRacing {
		t.Errorf("Race must continue until the clock expires by default, got %s", stored.Phase)
	}
}

func TestEndWhenAllFinished(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EndWhenAllFinished = true
	f := newFixture(t, cfg)
	ctx := context.Background()

	s := f.seedRacing(t, "A", "B")
	for i, p := range s.Players {
		for _, word := range s.Words {
			f.hub.SubmitWord(ctx, fmt.Sprintf("c%d", i), s.ID, p.ID, word)
		}
	}

	rows := f.out.next(t, events.OutboundRaceFinished).Data.(events.RaceFinished).Standings
	if len(rows) != 2 {
		t.Fatalf("Expected 2 standings, got %d", len(rows))
	}
	stored, _ := f.hub.Session(ctx, s.ID)
	if stored.Phase != models.PhaseFinished {
		t.Errorf("Expected FINISHED, got %s", stored.Phase)
	}
	if f.hub.ActiveSessions() != 0 {
		t.Error("Finished session must release its entry")
	}

	// further input is ignored
	before := len(f.out.broadcasts())
	f.hub.SubmitWord(ctx, "c0", s.ID, s.Players[0].ID, "the")
	if len(f.out.broadcasts()) != before {
		t.Error("Finished session must not broadcast")
	}
}

func TestRemoveSession_StopsClock(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	s, _ := f.hub.CreateSession(ctx, "c1", "A")
	f.hub.BeginCountdown(ctx, "c1", s.ID, s.Leader().ID)
	f.blockOnTimer(t)
	for i := 0; i < 6; i++ {
		f.tick(t)
	}
	f.clock.Advance(time.Second)
	if tick := f.out.next(t, events.OutboundCountdownTick).Data.(events.CountdownTick); tick.CountDown != "2:00" {
		t.Fatalf("Expected race clock, got %v", tick.CountDown)
	}

	if err := f.hub.RemoveSession(ctx, s.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := f.hub.Session(ctx, s.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if f.hub.ActiveSessions() != 0 {
		t.Error("Removed session must drop its entry")
	}

	f.clock.Advance(time.Second)
	f.clock.Advance(time.Second)
	f.out.assertQuiet(t)
}

func TestHandleEvent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	f.hub.HandleEvent(ctx, "c1", &events.CreateSession{CreatorName: "A"})
	created := f.out.next(t, events.OutboundSessionUpdated).Data.(*models.Session)

	f.hub.HandleEvent(ctx, "c2", &events.JoinSession{SessionID: created.ID, PlayerName: "B"})
	joined := f.out.next(t, events.OutboundSessionUpdated).Data.(*models.Session)
	if len(joined.Players) != 2 {
		t.Fatalf("Expected join to be routed, got %d players", len(joined.Players))
	}

	f.hub.HandleEvent(ctx, "c1", &events.BeginCountdown{SessionID: created.ID, PlayerID: created.Leader().ID})
	if s := f.out.next(t, events.OutboundSessionUpdated).Data.(*models.Session); s.Phase != models.PhaseCountingDown {
		t.Errorf("Expected countdown to be routed, got %s", s.Phase)
	}

	f.hub.HandleEvent(ctx, "c1", "garbage")
	f.out.assertQuiet(t)
}

func TestShutdown(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	s, _ := f.hub.CreateSession(ctx, "c1", "A")
	f.hub.BeginCountdown(ctx, "c1", s.ID, s.Leader().ID)

	done := make(chan struct{})
	go func() {
		f.hub.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("shutdown did not return")
	}
}

func TestRejectCode(t *testing.T) {
	cases := map[error]events.RejectCode{
		race.ErrSessionClosed:                          events.CodeSessionClosed,
		fmt.Errorf("wrap: %w", race.ErrPlayerNotFound): events.CodePlayerNotFound,
		race.ErrNotAuthorized:                          events.CodeNotAuthorized,
		fmt.Errorf("%w: nope", race.ErrInvalidPhase):   events.CodeInvalidPhase,
		words.ErrSourceUnavailable:                     events.CodeSourceUnavailable,
		store.ErrNotFound:                              events.CodeSessionNotFound,
		errors.New("boom"):                             events.CodeInternal,
	}
	for err, want := range cases {
		if got := rejectCode(err); got != want {
			t.Errorf("%v: expected %s, got %s", err, want, got)
		}
	}
}
