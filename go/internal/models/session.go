package models

import (
	"time"

	"github.com/google/uuid"
)

// Phase defines the lifecycle stage of a race session.
type Phase string

const (
	PhaseOpen         Phase = "OPEN"
	PhaseCountingDown Phase = "COUNTING_DOWN"
	PhaseRacing       Phase = "RACING"
	PhaseFinished     Phase = "FINISHED"
)

// Session represents a single race instance.
type Session struct {
	ID         uuid.UUID  `json:"id"`
	Words      []string   `json:"words"`
	Phase      Phase      `json:"phase"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Players    []*Player  `json:"players"` // join order
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Player looks up a player by ID.
func (s *Session) Player(id uuid.UUID) (*Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Leader returns the party leader, if any.
func (s *Session) Leader() *Player {
	for _, p := range s.Players {
		if p.IsPartyLeader {
			return p
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without touching the receiver.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Words = append([]string(nil), s.Words...)
	c.StartTime = cloneTime(s.StartTime)
	c.FinishedAt = cloneTime(s.FinishedAt)
	c.Players = make([]*Player, len(s.Players))
	for i, p := range s.Players {
		c.Players[i] = p.Clone()
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
