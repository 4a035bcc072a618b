package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/typeracer/go/internal/race"
)

// OutboundType names a server-to-client message
type OutboundType string

const (
	OutboundSessionUpdated OutboundType = "session-updated"
	OutboundCountdownTick  OutboundType = "countdown-tick"
	OutboundRaceDone       OutboundType = "race-done"
	OutboundRaceFinished   OutboundType = "race-finished"
	OutboundRejected       OutboundType = "rejected"
)

const (
	MsgStartingGame  = "Starting Game"
	MsgTimeRemaining = "Time Remaining"
)

// Outbound is the envelope for every message the server sends
type Outbound struct {
	Type      OutboundType `json:"type"`
	SessionID string       `json:"session_id,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Data      any          `json:"data"`
}

func NewOutbound(typ OutboundType, sessionID uuid.UUID, at time.Time, data any) *Outbound {
	out := &Outbound{Type: typ, Timestamp: at, Data: data}
	if sessionID != uuid.Nil {
		out.SessionID = sessionID.String()
	}
	return out
}

// CountdownTick carries either an integer countdown or an m:ss race clock.
type CountdownTick struct {
	CountDown any    `json:"countDown"`
	Msg       string `json:"msg"`
}

// RaceDone is sent privately to a player who typed the last word.
type RaceDone struct {
	PlayerID uuid.UUID `json:"player_id"`
	WPM      int       `json:"wpm"`
}

type RaceFinished struct {
	Standings []race.Standing `json:"standings"`
}

// RejectCode classifies why an inbound event was refused
type RejectCode string

const (
	CodeSessionClosed     RejectCode = "SESSION_CLOSED"
	CodePlayerNotFound    RejectCode = "PLAYER_NOT_FOUND"
	CodeNotAuthorized     RejectCode = "NOT_AUTHORIZED"
	CodeInvalidPhase      RejectCode = "INVALID_PHASE"
	CodeSourceUnavailable RejectCode = "SOURCE_UNAVAILABLE"
	CodeSessionNotFound   RejectCode = "SESSION_NOT_FOUND"
	CodeInternal          RejectCode = "INTERNAL"
)

type Rejected struct {
	Event   InboundType `json:"event"`
	Code    RejectCode  `json:"code"`
	Message string      `json:"message"`
}
