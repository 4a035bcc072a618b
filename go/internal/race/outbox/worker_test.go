package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mcdev12/typeracer/go/internal/race/events"
)

type fakePublisher struct {
	mu        sync.Mutex
	failFirst int
	attempts  int
	published []*events.Event
	closed    bool
	done      chan struct{}
}

func newFakePublisher(failFirst int) *fakePublisher {
	return &fakePublisher{failFirst: failFirst, done: make(chan struct{}, 64)}
}

func (p *fakePublisher) Publish(ctx context.Context, e *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.attempts <= p.failFirst {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, e)
	p.done <- struct{}{}
	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func testConfig() Config {
	return Config{QueueSize: 8, MaxRetries: 3, RetryDelay: time.Millisecond}
}

func waitPublished(t *testing.T, p *fakePublisher) {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not published")
	}
}

func TestWorker_PublishesInOrder(t *testing.T) {
	pub := newFakePublisher(0)
	w := NewWorker(pub, testConfig())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	for _, id := range []string{"e1", "e2", "e3"} {
		w.Enqueue(&events.Event{ID: id, Type: events.EventTypeWordAccepted})
	}
	for i := 0; i < 3; i++ {
		waitPublished(t, pub)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if pub.published[0].ID != "e1" || pub.published[2].ID != "e3" {
		t.Errorf("Events must publish in enqueue order")
	}
	if !pub.closed {
		t.Error("Stop must close the publisher")
	}
	if stats := w.Stats(); stats.Published != 3 || stats.Enqueued != 3 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestWorker_RetriesFailedPublish(t *testing.T) {
	pub := newFakePublisher(2)
	w := NewWorker(pub, testConfig())
	w.Start(context.Background())
	defer w.Stop()

	w.Enqueue(&events.Event{ID: "e1"})
	waitPublished(t, pub)

	pub.mu.Lock()
	attempts := pub.attempts
	pub.mu.Unlock()
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestWorker_GivesUpAfterMaxRetries(t *testing.T) {
	pub := newFakePublisher(100)
	w := NewWorker(pub, testConfig())
	w.Start(context.Background())

	w.Enqueue(&events.Event{ID: "e1"})
	w.Stop()

	if stats := w.Stats(); stats.Failed != 1 || stats.Published != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if pub.attempts != 4 {
		t.Errorf("Expected 1 try plus 3 retries, got %d", pub.attempts)
	}
}

func TestWorker_DropsWhenStopped(t *testing.T) {
	w := NewWorker(newFakePublisher(0), testConfig())
	w.Enqueue(&events.Event{ID: "early"})
	if w.Stats().Dropped != 1 {
		t.Error("Events before Start must be dropped")
	}
	if err := w.Stop(); err == nil {
		t.Error("Stop before Start must fail")
	}
}

func TestWorker_DoubleStart(t *testing.T) {
	w := NewWorker(newFakePublisher(0), testConfig())
	w.Start(context.Background())
	defer w.Stop()
	if err := w.Start(context.Background()); err == nil {
		t.Error("Second start must fail")
	}
}

func TestJetStreamMessage(t *testing.T) {
	p := &JetStreamPublisher{config: DefaultJetStreamConfig()}
	e := &events.Event{
		ID:        "evt-1",
		SessionID: "sess-1",
		Type:      events.EventTypeRaceFinished,
		Data:      json.RawMessage(`{"winner":"a"}`),
	}

	msg, err := p.message(e)
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if msg.Subject != "typerace.events.sess-1.RaceFinished" {
		t.Errorf("Unexpected subject %q", msg.Subject)
	}
	if msg.Header.Get("Event-ID") != "evt-1" || msg.Header.Get("Session-ID") != "sess-1" {
		t.Errorf("Unexpected headers %v", msg.Header)
	}

	var decoded events.Event
	if err := json.Unmarshal(msg.Data, &decoded); err != nil || decoded.Type != events.EventTypeRaceFinished {
		t.Errorf("Body must carry the event, got %s", msg.Data)
	}

	sc := p.streamConfig()
	if sc.Subjects[0] != "typerace.events.>" {
		t.Errorf("Unexpected stream subjects %v", sc.Subjects)
	}
}

func TestLogPublisher(t *testing.T) {
	var p EventPublisher = LogPublisher{}
	if err := p.Publish(context.Background(), &events.Event{ID: "e"}); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}
