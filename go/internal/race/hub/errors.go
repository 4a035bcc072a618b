package hub

import (
	"errors"

	"github.com/mcdev12/typeracer/go/internal/race"
	"github.com/mcdev12/typeracer/go/internal/race/events"
	"github.com/mcdev12/typeracer/go/internal/race/store"
	"github.com/mcdev12/typeracer/go/internal/race/words"
)

// errSessionGone is returned by timer callbacks after the session entry was torn down.
var errSessionGone = errors.New("session entry no longer active")

// rejectCode maps an operation error to the code reported to the client.
func rejectCode(err error) events.RejectCode {
	switch {
	case errors.Is(err, race.ErrSessionClosed):
		return events.CodeSessionClosed
	case errors.Is(err, race.ErrPlayerNotFound):
		return events.CodePlayerNotFound
	case errors.Is(err, race.ErrNotAuthorized):
		return events.CodeNotAuthorized
	case errors.Is(err, race.ErrInvalidPhase):
		return events.CodeInvalidPhase
	case errors.Is(err, words.ErrSourceUnavailable):
		return events.CodeSourceUnavailable
	case errors.Is(err, store.ErrNotFound):
		return events.CodeSessionNotFound
	default:
		return events.CodeInternal
	}
}

func rejectMessage(code events.RejectCode, err error) string {
	if code == events.CodeInternal {
		return "internal error"
	}
	return err.Error()
}
