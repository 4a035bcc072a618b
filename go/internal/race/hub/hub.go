// Package hub serializes every mutation of a race session and fans the results out to its members.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typeracer/go/internal/models"
	"github.com/mcdev12/typeracer/go/internal/race"
	"github.com/mcdev12/typeracer/go/internal/race/events"
	"github.com/mcdev12/typeracer/go/internal/race/scheduler"
	"github.com/mcdev12/typeracer/go/internal/race/store"
	"github.com/mcdev12/typeracer/go/internal/race/words"
	"github.com/rs/zerolog/log"
)

// Broadcaster delivers outbound messages to connections.
type Broadcaster interface {
	// Join adds the connection to the session's broadcast group.
	Join(sessionID uuid.UUID, connID string)
	Broadcast(sessionID uuid.UUID, msg *events.Outbound)
	SendTo(connID string, msg *events.Outbound)
}

// EventSink receives accepted mutations for asynchronous publication.
type EventSink interface {
	Enqueue(e *events.Event)
}

type noopSink struct{}

func (noopSink) Enqueue(*events.Event) {}

// entry guards one session. Timer callbacks take the same lock as client events.
type entry struct {
	mu sync.Mutex
	// seats binds each player to the connection that created or joined as them.
	// Snapshots do not carry connection IDs through every store.
	seats map[uuid.UUID]string
}

// Hub owns the per-session concurrency boundary.
type Hub struct {
	cfg     Config
	clock   clockwork.Clock
	machine *race.Machine
	store   store.Store
	source  words.Source
	timers  *scheduler.Scheduler
	out     Broadcaster
	sink    EventSink

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

type Option func(*Hub)

// WithClock drives the state machine and timers from clock.
func WithClock(clock clockwork.Clock) Option {
	return func(h *Hub) { h.clock = clock }
}

// WithEventSink publishes accepted mutations to sink.
func WithEventSink(sink EventSink) Option {
	return func(h *Hub) { h.sink = sink }
}

func New(cfg Config, st store.Store, source words.Source, out Broadcaster, opts ...Option) *Hub {
	h := &Hub{
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		store:   st,
		source:  source,
		out:     out,
		sink:    noopSink{},
		entries: make(map[uuid.UUID]*entry),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.machine = race.NewMachine(h.clock)
	h.timers = scheduler.New(h.clock)
	return h
}

// acquire returns the session's entry, creating it on first reference.
func (h *Hub) acquire(sessionID uuid.UUID) *entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[sessionID]
	if !ok {
		e = &entry{seats: make(map[uuid.UUID]string)}
		h.entries[sessionID] = e
	}
	return e
}

func (h *Hub) lookup(sessionID uuid.UUID) *entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[sessionID]
}

func (h *Hub) current(sessionID uuid.UUID, e *entry) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[sessionID] == e
}

// drop tears down e. Only sessions that can no longer change are dropped,
// so a caller still queued on the old lock cannot race a new entry's writer.
func (h *Hub) drop(sessionID uuid.UUID, e *entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.entries[sessionID] == e {
		delete(h.entries, sessionID)
	}
}

// authorize rejects connID acting as a player seated on another connection.
// Unknown players are left to the state machine to report.
func (e *entry) authorize(cur *models.Session, playerID uuid.UUID, connID string) error {
	if _, ok := cur.Player(playerID); !ok {
		return nil
	}
	if e.seats[playerID] != connID {
		return fmt.Errorf("%w: connection does not own player %s", race.ErrNotAuthorized, playerID)
	}
	return nil
}

// ActiveSessions reports how many sessions currently hold an entry.
func (h *Hub) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// withSession runs fn under the session lock with the latest stored snapshot.
func (h *Hub) withSession(ctx context.Context, sessionID uuid.UUID, fn func(e *entry, cur *models.Session) error) error {
	e := h.acquire(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, err := h.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.drop(sessionID, e)
			return err
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	if cur.Phase == models.PhaseFinished {
		defer h.drop(sessionID, e)
	}
	return fn(e, cur)
}

// commit persists next and broadcasts it to every member.
func (h *Hub) commit(ctx context.Context, next *models.Session) (*models.Session, error) {
	saved, err := h.save(ctx, next)
	if err != nil {
		return nil, err
	}
	h.broadcastState(saved)
	return saved, nil
}

func (h *Hub) save(ctx context.Context, next *models.Session) (*models.Session, error) {
	saved, err := h.store.Save(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return saved, nil
}

func (h *Hub) broadcastState(s *models.Session) {
	h.out.Broadcast(s.ID, events.NewOutbound(events.OutboundSessionUpdated, s.ID, h.clock.Now(), s))
}

func (h *Hub) reject(connID string, event events.InboundType, sessionID uuid.UUID, err error) {
	code := rejectCode(err)
	log.Debug().Err(err).
		Str("conn_id", connID).
		Str("session_id", sessionID.String()).
		Str("event", string(event)).
		Str("code", string(code)).
		Msg("event rejected")

	h.out.SendTo(connID, events.NewOutbound(events.OutboundRejected, sessionID, h.clock.Now(), events.Rejected{
		Event:   event,
		Code:    code,
		Message: rejectMessage(code, err),
	}))
}

func (h *Hub) emit(sessionID uuid.UUID, typ events.EventType, payload any) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("event_type", string(typ)).Msg("failed to encode outbox payload")
			return
		}
		data = raw
	}
	h.sink.Enqueue(&events.Event{
		ID:        uuid.NewString(),
		SessionID: sessionID.String(),
		Type:      typ,
		Timestamp: h.clock.Now(),
		Data:      data,
	})
}

// CreateSession fetches a text, stores a new Open session and joins the creator's connection to it.
func (h *Hub) CreateSession(ctx context.Context, connID, creatorName string) (*models.Session, error) {
	text, err := h.source.Fetch(ctx)
	if err != nil {
		h.reject(connID, events.InboundCreateSession, uuid.Nil, err)
		return nil, err
	}

	s := h.machine.CreateSession(text, creatorName)
	s.Players[0].ConnectionID = connID

	saved, err := h.save(ctx, s)
	if err != nil {
		h.reject(connID, events.InboundCreateSession, uuid.Nil, err)
		return nil, err
	}

	e := h.acquire(saved.ID)
	e.mu.Lock()
	defer e.mu.Unlock()

	leader := saved.Leader()
	e.seats[leader.ID] = connID
	h.out.Join(saved.ID, connID)
	h.broadcastState(saved)

	h.emit(saved.ID, events.EventTypeSessionCreated, events.PlayerJoinedPayload{
		PlayerID:   leader.ID.String(),
		PlayerName: leader.Name,
		IsLeader:   true,
	})

	log.Info().
		Str("session_id", saved.ID.String()).
		Str("conn_id", connID).
		Int("words", len(saved.Words)).
		Msg("session created")
	return saved, nil
}

// JoinSession adds a player to an Open session.
func (h *Hub) JoinSession(ctx context.Context, connID string, sessionID uuid.UUID, playerName string) (*models.Player, error) {
	var joined *models.Player
	err := h.withSession(ctx, sessionID, func(e *entry, cur *models.Session) error {
		next, player, err := h.machine.JoinSession(cur, playerName)
		if err != nil {
			return err
		}
		player.ConnectionID = connID

		saved, err := h.save(ctx, next)
		if err != nil {
			return err
		}
		e.seats[player.ID] = connID
		h.out.Join(sessionID, connID)
		h.broadcastState(saved)
		joined = player

		h.emit(sessionID, events.EventTypePlayerJoined, events.PlayerJoinedPayload{
			PlayerID:   player.ID.String(),
			PlayerName: player.Name,
		})
		return nil
	})
	if err != nil {
		h.reject(connID, events.InboundJoinSession, sessionID, err)
		return nil, err
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Str("player_id", joined.ID.String()).
		Msg("player joined")
	return joined, nil
}

// BeginCountdown moves the session to CountingDown and starts the countdown timer.
// The timer is armed before the new phase is saved, so a stored CountingDown session always has one.
func (h *Hub) BeginCountdown(ctx context.Context, connID string, sessionID, playerID uuid.UUID) error {
	err := h.withSession(ctx, sessionID, func(e *entry, cur *models.Session) error {
		if err := e.authorize(cur, playerID, connID); err != nil {
			return err
		}
		next, err := h.machine.BeginCountdown(cur, playerID)
		if err != nil {
			return err
		}

		// the first tick needs the entry lock, which is held until commit returns
		err = h.timers.StartCountdown(sessionID, h.cfg.CountdownFrom,
			h.countdownTick(sessionID),
			func() { h.startRace(sessionID) },
		)
		if err != nil {
			return fmt.Errorf("failed to start countdown: %w", err)
		}
		if _, err := h.commit(ctx, next); err != nil {
			h.timers.Cancel(sessionID)
			return err
		}
		h.emit(sessionID, events.EventTypeCountdownStarted, nil)
		return nil
	})
	if err != nil {
		h.reject(connID, events.InboundBeginCountdown, sessionID, err)
		return err
	}

	log.Info().Str("session_id", sessionID.String()).Msg("countdown started")
	return nil
}

// SubmitWord applies one typed word. Mismatches and input outside Racing change nothing.
func (h *Hub) SubmitWord(ctx context.Context, connID string, sessionID, playerID uuid.UUID, text string) error {
	err := h.withSession(ctx, sessionID, func(e *entry, cur *models.Session) error {
		if cur.Phase == models.PhaseRacing {
			if err := e.authorize(cur, playerID, connID); err != nil {
				return err
			}
		}
		next, progress, err := h.machine.SubmitWord(cur, playerID, text)
		if err != nil {
			return err
		}
		if !progress.Advanced {
			return nil
		}

		saved, err := h.commit(ctx, next)
		if err != nil {
			return err
		}
		player, _ := saved.Player(playerID)
		h.emit(sessionID, events.EventTypeWordAccepted, events.WordAcceptedPayload{
			PlayerID:  playerID.String(),
			WordIndex: player.CurrentWordIndex,
		})

		if !progress.Finished {
			return nil
		}
		h.out.SendTo(connID, events.NewOutbound(events.OutboundRaceDone, sessionID, h.clock.Now(), events.RaceDone{
			PlayerID: playerID,
			WPM:      player.WordsPerMinute,
		}))
		h.emit(sessionID, events.EventTypePlayerFinished, events.PlayerFinishedPayload{
			PlayerID: playerID.String(),
			WPM:      player.WordsPerMinute,
		})

		if h.cfg.EndWhenAllFinished && race.AllFinished(saved) {
			h.timers.Cancel(sessionID)
			return h.finish(ctx, saved)
		}
		return nil
	})
	if err != nil {
		h.reject(connID, events.InboundSubmitWord, sessionID, err)
		return err
	}
	return nil
}

// RemoveSession cancels the session's timers, deletes it and drops its entry.
func (h *Hub) RemoveSession(ctx context.Context, sessionID uuid.UUID) error {
	h.timers.Cancel(sessionID)

	e := h.acquire(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	defer h.drop(sessionID, e)

	if err := h.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	h.emit(sessionID, events.EventTypeSessionRemoved, nil)

	log.Info().Str("session_id", sessionID.String()).Msg("session removed")
	return nil
}

// Session returns the latest stored snapshot.
func (h *Hub) Session(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	return h.store.Load(ctx, sessionID)
}

// Results returns the final standings of a Finished session, nil for any other phase.
// Standings recorded by the store are preferred over recomputing them from the snapshot.
func (h *Hub) Results(ctx context.Context, sessionID uuid.UUID) ([]race.Standing, error) {
	if rl, ok := h.store.(store.ResultsLoader); ok {
		rows, err := rl.LoadResults(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if rows != nil {
			return rows, nil
		}
	}

	s, err := h.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Phase != models.PhaseFinished {
		return nil, nil
	}
	return race.Standings(s), nil
}

// HandleEvent routes a parsed inbound payload from connID. Unknown payloads are ignored.
func (h *Hub) HandleEvent(ctx context.Context, connID string, payload any) {
	switch p := payload.(type) {
	case *events.CreateSession:
		h.CreateSession(ctx, connID, p.CreatorName)
	case *events.JoinSession:
		h.JoinSession(ctx, connID, p.SessionID, p.PlayerName)
	case *events.BeginCountdown:
		h.BeginCountdown(ctx, connID, p.SessionID, p.PlayerID)
	case *events.SubmitWord:
		h.SubmitWord(ctx, connID, p.SessionID, p.PlayerID, p.Text)
	default:
		log.Debug().Str("conn_id", connID).Msgf("ignoring payload of type %T", payload)
	}
}

// Shutdown cancels every outstanding timer and waits for their callbacks.
func (h *Hub) Shutdown() {
	h.timers.Stop()
}
