package events

import (
	"encoding/json"
	"time"
)

// Event is an accepted session mutation published through the outbox
type Event struct {
	ID        string          `json:"id"`         // Event UUID
	SessionID string          `json:"session_id"` // Session UUID
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType represents the type of session event
type EventType string

const (
	EventTypeSessionCreated   EventType = "SessionCreated"
	EventTypePlayerJoined     EventType = "PlayerJoined"
	EventTypeCountdownStarted EventType = "CountdownStarted"
	EventTypeRaceStarted      EventType = "RaceStarted"
	EventTypeWordAccepted     EventType = "WordAccepted"
	EventTypePlayerFinished   EventType = "PlayerFinished"
	EventTypeRaceFinished     EventType = "RaceFinished"
	EventTypeSessionRemoved   EventType = "SessionRemoved"
)

// Subject returns the broker subject the event is published on.
func (e *Event) Subject(prefix string) string {
	return prefix + "." + e.SessionID + "." + string(e.Type)
}

type PlayerJoinedPayload struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	IsLeader   bool   `json:"is_leader"`
}

type WordAcceptedPayload struct {
	PlayerID  string `json:"player_id"`
	WordIndex int    `json:"word_index"`
}

type PlayerFinishedPayload struct {
	PlayerID string `json:"player_id"`
	WPM      int    `json:"wpm"`
}

type RaceStartedPayload struct {
	StartedAt   time.Time `json:"started_at"`
	PlayerCount int       `json:"player_count"`
	WordCount   int       `json:"word_count"`
}

type RaceFinishedPayload struct {
	FinishedAt time.Time `json:"finished_at"`
	Duration   string    `json:"duration"`
	Winner     string    `json:"winner,omitempty"`
}
