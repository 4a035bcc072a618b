package hub

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/typeracer/go/internal/models"
	"github.com/mcdev12/typeracer/go/internal/race"
	"github.com/mcdev12/typeracer/go/internal/race/events"
	"github.com/mcdev12/typeracer/go/internal/race/scheduler"
	"github.com/rs/zerolog/log"
)

// Timer callbacks run on scheduler goroutines without a request context.

func (h *Hub) countdownTick(sessionID uuid.UUID) scheduler.TickFunc {
	return func(remaining int) error {
		return h.tick(sessionID, events.CountdownTick{CountDown: remaining, Msg: events.MsgStartingGame})
	}
}

func (h *Hub) clockTick(sessionID uuid.UUID) scheduler.TickFunc {
	return func(remaining int) error {
		return h.tick(sessionID, events.CountdownTick{CountDown: scheduler.FormatClock(remaining), Msg: events.MsgTimeRemaining})
	}
}

func (h *Hub) tick(sessionID uuid.UUID, payload events.CountdownTick) error {
	e := h.lookup(sessionID)
	if e == nil {
		return errSessionGone
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !h.current(sessionID, e) {
		return errSessionGone
	}
	h.out.Broadcast(sessionID, events.NewOutbound(events.OutboundCountdownTick, sessionID, h.clock.Now(), payload))
	return nil
}

// locked runs fn under the entry lock if the session still has a live entry.
func (h *Hub) locked(sessionID uuid.UUID, fn func(e *entry)) {
	e := h.lookup(sessionID)
	if e == nil {
		log.Warn().Str("session_id", sessionID.String()).Msg("timer fired for inactive session")
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !h.current(sessionID, e) {
		log.Warn().Str("session_id", sessionID.String()).Msg("timer fired for inactive session")
		return
	}
	fn(e)
}

// startRace runs when the countdown expires.
func (h *Hub) startRace(sessionID uuid.UUID) {
	ctx := context.Background()
	h.locked(sessionID, func(e *entry) {
		cur, err := h.store.Load(ctx, sessionID)
		if err != nil {
			log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to load session for race start")
			return
		}
		next, err := h.machine.StartRace(cur)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("race start skipped")
			return
		}
		saved, err := h.commit(ctx, next)
		if err != nil {
			log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to persist race start")
			return
		}
		h.emit(sessionID, events.EventTypeRaceStarted, events.RaceStartedPayload{
			StartedAt:   *saved.StartTime,
			PlayerCount: len(saved.Players),
			WordCount:   len(saved.Words),
		})

		if err := h.timers.StartClock(sessionID, h.cfg.RaceDuration, h.clockTick(sessionID), func() { h.expireRace(sessionID) }); err != nil {
			log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to start race clock")
			return
		}
		log.Info().Str("session_id", sessionID.String()).Int("players", len(saved.Players)).Msg("race started")
	})
}

// expireRace runs when the race clock passes zero.
func (h *Hub) expireRace(sessionID uuid.UUID) {
	ctx := context.Background()
	h.locked(sessionID, func(e *entry) {
		cur, err := h.store.Load(ctx, sessionID)
		if err != nil {
			log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to load session for expiry")
			return
		}
		if err := h.finish(ctx, cur); err != nil {
			log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to expire race")
		}
	})
}

// finish expires a Racing session, announces the standings and drops the entry.
// The caller holds the entry lock and has already cancelled or drained the race clock.
func (h *Hub) finish(ctx context.Context, cur *models.Session) error {
	next, err := h.machine.ExpireRace(cur)
	if err != nil {
		return err
	}
	if next == cur {
		return nil
	}
	saved, err := h.commit(ctx, next)
	if err != nil {
		return err
	}

	standings := race.Standings(saved)
	h.out.Broadcast(saved.ID, events.NewOutbound(events.OutboundRaceFinished, saved.ID, h.clock.Now(), events.RaceFinished{
		Standings: standings,
	}))

	payload := events.RaceFinishedPayload{
		FinishedAt: *saved.FinishedAt,
		Duration:   saved.FinishedAt.Sub(*saved.StartTime).Round(time.Second).String(),
	}
	if len(standings) > 0 {
		payload.Winner = standings[0].PlayerID.String()
	}
	h.emit(saved.ID, events.EventTypeRaceFinished, payload)

	if e := h.lookup(saved.ID); e != nil {
		h.drop(saved.ID, e)
	}
	log.Info().Str("session_id", saved.ID.String()).Msg("race finished")
	return nil
}
