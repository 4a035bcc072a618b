// Package outbox publishes accepted session mutations off the session critical path.
package outbox

import (
	"context"

	"github.com/mcdev12/typeracer/go/internal/race/events"
)

type EventPublisher interface {
	Publish(ctx context.Context, event *events.Event) error
	Close() error
}

// Stats is a snapshot of worker counters.
type Stats struct {
	Enqueued  uint64 `json:"enqueued"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Pending   int    `json:"pending"`
}
