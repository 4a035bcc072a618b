package models

import (
	"time"

	"github.com/google/uuid"
)

// WPMUnset marks a player whose words-per-minute has not been computed yet.
const WPMUnset = -1

// Player represents a racer inside a session
type Player struct {
	ID               uuid.UUID  `json:"id"`
	ConnectionID     string     `json:"-"` // transient, never persisted
	Name             string     `json:"name"`
	CurrentWordIndex int        `json:"current_word_index"`
	IsPartyLeader    bool       `json:"is_party_leader"`
	WordsPerMinute   int        `json:"wpm"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

// HasScore reports whether the player's WPM has already been computed
func (p *Player) HasScore() bool {
	return p.WordsPerMinute != WPMUnset
}

// Clone returns a copy of the player
func (p *Player) Clone() *Player {
	c := *p
	c.FinishedAt = cloneTime(p.FinishedAt)
	return &c
}
