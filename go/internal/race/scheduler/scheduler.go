// Package scheduler runs the per-session countdown and race clock tickers.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	// ErrAlreadyRunning is returned when a timer of the same kind is already ticking for the session.
	ErrAlreadyRunning = errors.New("timer already running for session")
	// ErrStopped is returned once the scheduler has been stopped.
	ErrStopped = errors.New("scheduler stopped")
)

// Kind distinguishes the two timers a session can own.
type Kind string

const (
	KindCountdown Kind = "countdown"
	KindRaceClock Kind = "race_clock"
)

// TickFunc receives the remaining count. Returning an error cancels the timer.
type TickFunc func(remaining int) error

type timerKey struct {
	sessionID uuid.UUID
	kind      Kind
}

type activeTimer struct {
	ticker clockwork.Ticker
	stop   chan struct{}
}

// Scheduler tracks one-second tickers keyed by session ID.
type Scheduler struct {
	clock clockwork.Clock

	mu      sync.Mutex
	timers  map[timerKey]*activeTimer
	stopped bool
	wg      sync.WaitGroup
}

func New(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		clock:  clock,
		timers: make(map[timerKey]*activeTimer),
	}
}

// StartCountdown ticks from..0 once per second, the first tick one second from now.
// One second after the 0 tick the countdown is removed and onDone runs.
func (s *Scheduler) StartCountdown(sessionID uuid.UUID, from int, onTick TickFunc, onDone func()) error {
	key := timerKey{sessionID: sessionID, kind: KindCountdown}
	t, err := s.register(key)
	if err != nil {
		return err
	}

	go func() {
		defer s.wg.Done()
		s.run(key, t, from, onTick, onDone)
	}()

	log.Debug().Str("session_id", sessionID.String()).Int("from", from).Msg("countdown scheduled")
	return nil
}

// StartClock emits the full duration in seconds right away and then once per second down to 0.
// On the tick after 0 the clock is removed and onExpire runs exactly once.
func (s *Scheduler) StartClock(sessionID uuid.UUID, duration time.Duration, onTick TickFunc, onExpire func()) error {
	key := timerKey{sessionID: sessionID, kind: KindRaceClock}
	t, err := s.register(key)
	if err != nil {
		return err
	}
	total := int(duration / time.Second)

	go func() {
		defer s.wg.Done()
		if err := onTick(total); err != nil {
			s.abort(key, t, err)
			return
		}
		s.run(key, t, total-1, onTick, onExpire)
	}()

	log.Debug().Str("session_id", sessionID.String()).Dur("duration", duration).Msg("race clock scheduled")
	return nil
}

func (s *Scheduler) register(key timerKey) (*activeTimer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, ErrStopped
	}
	if _, exists := s.timers[key]; exists {
		return nil, fmt.Errorf("%w: %s %s", ErrAlreadyRunning, key.kind, key.sessionID)
	}
	t := &activeTimer{
		ticker: s.clock.NewTicker(time.Second),
		stop:   make(chan struct{}),
	}
	s.timers[key] = t
	s.wg.Add(1)
	return t, nil
}

func (s *Scheduler) run(key timerKey, t *activeTimer, remaining int, onTick TickFunc, onDone func()) {
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.Chan():
		}

		if !s.isCurrent(key, t) {
			return
		}
		if remaining < 0 {
			if s.remove(key, t) {
				onDone()
			}
			return
		}
		if err := onTick(remaining); err != nil {
			s.abort(key, t, err)
			return
		}
		remaining--
	}
}

func (s *Scheduler) isCurrent(key timerKey, t *activeTimer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[key] == t
}

// remove drops t if it is still the registered timer for key.
func (s *Scheduler) remove(key timerKey, t *activeTimer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timers[key] != t {
		return false
	}
	t.ticker.Stop()
	delete(s.timers, key)
	return true
}

func (s *Scheduler) abort(key timerKey, t *activeTimer, err error) {
	s.remove(key, t)
	log.Warn().Err(err).
		Str("session_id", key.sessionID.String()).
		Str("kind", string(key.kind)).
		Msg("tick failed, timer cancelled")
}

// Cancel stops every timer owned by the session.
func (s *Scheduler) Cancel(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, kind := range []Kind{KindCountdown, KindRaceClock} {
		key := timerKey{sessionID: sessionID, kind: kind}
		if t, exists := s.timers[key]; exists {
			t.ticker.Stop()
			close(t.stop)
			delete(s.timers, key)
			log.Debug().Str("session_id", sessionID.String()).Str("kind", string(kind)).Msg("cancelled timer")
		}
	}
}

// Active reports whether a timer of kind is running for the session.
func (s *Scheduler) Active(sessionID uuid.UUID, kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.timers[timerKey{sessionID: sessionID, kind: kind}]
	return exists
}

// Stop cancels all timers and waits for their goroutines to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for key, t := range s.timers {
		t.ticker.Stop()
		close(t.stop)
		delete(s.timers, key)
	}
	s.mu.Unlock()

	s.wg.Wait()
	log.Info().Msg("scheduler stopped")
}

// FormatClock renders seconds as m:ss.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
