package race

import "errors"

var (
	// ErrSessionClosed is returned when a join is attempted after the lobby closed.
	ErrSessionClosed = errors.New("session is no longer open")
	// ErrPlayerNotFound is returned when an event references an unknown player.
	ErrPlayerNotFound = errors.New("player not found in session")
	// ErrNotAuthorized is returned when a non-leader attempts a leader-only action.
	ErrNotAuthorized = errors.New("only the party leader can perform this action")
	// ErrInvalidPhase is returned when an action is attempted in the wrong phase.
	ErrInvalidPhase = errors.New("action not allowed in current phase")
)
