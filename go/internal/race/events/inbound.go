// Package events defines the websocket wire protocol and the domain events published to the outbox.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrUnknownEvent is returned by Parse for event types the server does not handle.
var ErrUnknownEvent = errors.New("unknown event type")

// InboundType names a client-to-server event
type InboundType string

const (
	InboundCreateSession  InboundType = "create-session"
	InboundJoinSession    InboundType = "join-session"
	InboundBeginCountdown InboundType = "begin-countdown"
	InboundSubmitWord     InboundType = "submit-word"
)

// Inbound is the envelope every client message arrives in
type Inbound struct {
	Type InboundType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

type CreateSession struct {
	CreatorName string `json:"creatorName" validate:"required,max=32"`
}

type JoinSession struct {
	SessionID  uuid.UUID `json:"sessionID" validate:"required"`
	PlayerName string    `json:"playerName" validate:"required,max=32"`
}

type BeginCountdown struct {
	SessionID uuid.UUID `json:"sessionID" validate:"required"`
	PlayerID  uuid.UUID `json:"playerID" validate:"required"`
}

type SubmitWord struct {
	SessionID uuid.UUID `json:"sessionID" validate:"required"`
	PlayerID  uuid.UUID `json:"playerID" validate:"required"`
	Text      string    `json:"text" validate:"max=256"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes and validates a raw client message into one of the payload structs.
func Parse(raw []byte) (any, error) {
	var env Inbound
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	var payload any
	switch env.Type {
	case InboundCreateSession:
		payload = &CreateSession{}
	case InboundJoinSession:
		payload = &JoinSession{}
	case InboundBeginCountdown:
		payload = &BeginCountdown{}
	case InboundSubmitWord:
		payload = &SubmitWord{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}

	if len(env.Data) == 0 {
		return nil, fmt.Errorf("missing data for %s", env.Type)
	}
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
	}
	if err := validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	return payload, nil
}

// TypeOf maps a parsed payload back to its wire name.
func TypeOf(payload any) InboundType {
	switch payload.(type) {
	case *CreateSession:
		return InboundCreateSession
	case *JoinSession:
		return InboundJoinSession
	case *BeginCountdown:
		return InboundBeginCountdown
	case *SubmitWord:
		return InboundSubmitWord
	default:
		return ""
	}
}
