package outbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcdev12/typeracer/go/internal/race/events"
	"github.com/rs/zerolog/log"
)

type Config struct {
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:  1024,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// Worker drains a bounded queue of events into an EventPublisher.
type Worker struct {
	publisher EventPublisher
	config    Config
	queue     chan *events.Event

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	enqueued  atomic.Uint64
	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

func NewWorker(publisher EventPublisher, cfg Config) *Worker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Worker{
		publisher: publisher,
		config:    cfg,
		queue:     make(chan *events.Event, cfg.QueueSize),
		stopChan:  make(chan struct{}),
	}
}

// Enqueue hands an event to the worker without blocking. A full queue drops the event.
func (w *Worker) Enqueue(e *events.Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.running {
		w.dropped.Add(1)
		log.Warn().Str("event_id", e.ID).Str("event_type", string(e.Type)).Msg("outbox worker not running, event dropped")
		return
	}
	select {
	case w.queue <- e:
		w.enqueued.Add(1)
	default:
		w.dropped.Add(1)
		log.Warn().Str("event_id", e.ID).Str("event_type", string(e.Type)).Msg("outbox queue full, event dropped")
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	log.Info().
		Int("queue_size", w.config.QueueSize).
		Int("max_retries", w.config.MaxRetries).
		Msg("outbox worker started")
	return nil
}

// Stop refuses new events, publishes what is already queued and waits for the worker to exit.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker not running")
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()

	log.Info().Msg("outbox worker stopped")
	return w.publisher.Close()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			w.drain(ctx)
			return
		case e := <-w.queue:
			w.process(ctx, e)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case e := <-w.queue:
			w.process(ctx, e)
		default:
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, e *events.Event) {
	if err := w.publishWithRetry(ctx, e); err != nil {
		w.failed.Add(1)
		log.Error().Err(err).
			Str("event_id", e.ID).
			Str("event_type", string(e.Type)).
			Msg("failed to publish event")
		return
	}
	w.published.Add(1)
}

func (w *Worker) publishWithRetry(ctx context.Context, e *events.Event) error {
	var lastErr error

	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.config.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := w.publisher.Publish(ctx, e); err != nil {
			lastErr = err
			log.Warn().Err(err).
				Str("event_id", e.ID).
				Int("attempt", attempt+1).
				Msg("failed to publish event, retrying")
			continue
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (w *Worker) Stats() Stats {
	return Stats{
		Enqueued:  w.enqueued.Load(),
		Published: w.published.Load(),
		Failed:    w.failed.Load(),
		Dropped:   w.dropped.Load(),
		Pending:   len(w.queue),
	}
}
