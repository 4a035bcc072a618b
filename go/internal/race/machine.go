package race

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typeracer/go/internal/models"
)

// minElapsed bounds the WPM divisor so sub-second finishes stay finite.
const minElapsed = time.Second

// Progress describes what a SubmitWord call did.
type Progress struct {
	Advanced bool // the word matched and the index moved forward
	Finished bool // this submission completed the race for the player
}

// Machine applies race lifecycle transitions to session snapshots.
// Every method leaves its input untouched and returns a new snapshot.
type Machine struct {
	clock clockwork.Clock
}

// NewMachine creates a state machine reading time from clock.
func NewMachine(clock clockwork.Clock) *Machine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Machine{clock: clock}
}

// CreateSession builds an Open session with the creator as party leader.
func (m *Machine) CreateSession(words []string, creatorName string) *models.Session {
	now := m.clock.Now()
	return &models.Session{
		Words: append([]string(nil), words...),
		Phase: models.PhaseOpen,
		Players: []*models.Player{{
			ID:             uuid.New(),
			Name:           creatorName,
			IsPartyLeader:  true,
			WordsPerMinute: models.WPMUnset,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// JoinSession appends a non-leader player. Only Open sessions accept players.
func (m *Machine) JoinSession(s *models.Session, playerName string) (*models.Session, *models.Player, error) {
	if s.Phase != models.PhaseOpen {
		return nil, nil, ErrSessionClosed
	}

	next := s.Clone()
	player := &models.Player{
		ID:             uuid.New(),
		Name:           playerName,
		WordsPerMinute: models.WPMUnset,
	}
	next.Players = append(next.Players, player)
	next.UpdatedAt = m.clock.Now()
	return next, player, nil
}

// SubmitWord checks typed against the player's next word.
// Input outside of Racing is ignored and the session is returned unchanged.
func (m *Machine) SubmitWord(s *models.Session, playerID uuid.UUID, typed string) (*models.Session, Progress, error) {
	if s.Phase != models.PhaseRacing {
		return s, Progress{}, nil
	}
	current, ok := s.Player(playerID)
	if !ok {
		return nil, Progress{}, ErrPlayerNotFound
	}
	if current.CurrentWordIndex >= len(s.Words) || s.Words[current.CurrentWordIndex] != typed {
		return s, Progress{}, nil
	}

	now := m.clock.Now()
	next := s.Clone()
	player, _ := next.Player(playerID)
	player.CurrentWordIndex++
	next.UpdatedAt = now

	progress := Progress{Advanced: true}
	if player.CurrentWordIndex == len(next.Words) {
		if !player.HasScore() {
			player.WordsPerMinute = wordsPerMinute(player.CurrentWordIndex, *next.StartTime, now)
		}
		player.FinishedAt = &now
		progress.Finished = true
	}
	return next, progress, nil
}

// BeginCountdown moves an Open session to CountingDown on the leader's request.
func (m *Machine) BeginCountdown(s *models.Session, requesterID uuid.UUID) (*models.Session, error) {
	requester, ok := s.Player(requesterID)
	if !ok {
		return nil, ErrPlayerNotFound
	}
	if !requester.IsPartyLeader {
		return nil, ErrNotAuthorized
	}
	if s.Phase != models.PhaseOpen {
		return nil, fmt.Errorf("%w: cannot begin countdown while %s", ErrInvalidPhase, s.Phase)
	}

	next := s.Clone()
	next.Phase = models.PhaseCountingDown
	next.UpdatedAt = m.clock.Now()
	return next, nil
}

// StartRace moves a CountingDown session to Racing and stamps the start time.
// Any other phase is rejected so the start time is never reset.
func (m *Machine) StartRace(s *models.Session) (*models.Session, error) {
	if s.Phase != models.PhaseCountingDown {
		return nil, fmt.Errorf("%w: cannot start race while %s", ErrInvalidPhase, s.Phase)
	}

	now := m.clock.Now()
	next := s.Clone()
	next.Phase = models.PhaseRacing
	next.StartTime = &now
	next.UpdatedAt = now
	return next, nil
}

// ExpireRace finishes a Racing session and scores everyone still unscored.
// Re-invoking it on a Finished session is a no-op.
func (m *Machine) ExpireRace(s *models.Session) (*models.Session, error) {
	switch s.Phase {
	case models.PhaseFinished:
		return s, nil
	case models.PhaseRacing:
	default:
		return nil, fmt.Errorf("%w: cannot expire race while %s", ErrInvalidPhase, s.Phase)
	}

	now := m.clock.Now()
	next := s.Clone()
	for _, p := range next.Players {
		if !p.HasScore() {
			p.WordsPerMinute = wordsPerMinute(p.CurrentWordIndex, *next.StartTime, now)
		}
	}
	next.Phase = models.PhaseFinished
	next.FinishedAt = &now
	next.UpdatedAt = now
	return next, nil
}

// AllFinished reports whether every player typed the full text.
func AllFinished(s *models.Session) bool {
	if len(s.Players) == 0 {
		return false
	}
	for _, p := range s.Players {
		if p.CurrentWordIndex < len(s.Words) {
			return false
		}
	}
	return true
}

// wordsPerMinute is floor(words / elapsed minutes), elapsed clamped to minElapsed.
func wordsPerMinute(words int, start, end time.Time) int {
	elapsed := end.Sub(start)
	if elapsed < minElapsed {
		elapsed = minElapsed
	}
	return int(math.Floor(float64(words) / elapsed.Minutes()))
}
