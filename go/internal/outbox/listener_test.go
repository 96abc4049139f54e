package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// memorySource is an in-memory EventSource tracking which rows were marked
// sent.
type memorySource struct {
	events map[uuid.UUID]OutboxEvent
	sent   map[uuid.UUID]bool
}

func newMemorySource(events ...OutboxEvent) *memorySource {
	src := &memorySource{
		events: make(map[uuid.UUID]OutboxEvent),
		sent:   make(map[uuid.UUID]bool),
	}
	for _, e := range events {
		src.events[e.ID] = e
	}
	return src
}

func (s *memorySource) FetchEventByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	e, ok := s.events[id]
	if !ok || s.sent[id] {
		return nil, ErrEventGone
	}
	return &e, nil
}

func (s *memorySource) FetchUnsent(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	var out []OutboxEvent
	for id, e := range s.events {
		if !s.sent[id] {
			out = append(out, e)
		}
		if int32(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (s *memorySource) MarkSent(ctx context.Context, id uuid.UUID) error {
	s.sent[id] = true
	return nil
}

// flakyPublisher fails a fixed number of times before accepting.
type flakyPublisher struct {
	failures int
	calls    int
	accepted []uuid.UUID
}

func (p *flakyPublisher) Publish(ctx context.Context, event OutboxEvent) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("broker unavailable")
	}
	p.accepted = append(p.accepted, event.ID)
	return nil
}

func testListener(src EventSource, pub Publisher) *Listener {
	cfg := DefaultListenerConfig()
	cfg.RetryDelay = time.Millisecond
	return &Listener{repo: src, publisher: pub, cfg: cfg}
}

func testEvent() OutboxEvent {
	return OutboxEvent{
		ID:        uuid.New(),
		LobbyID:   uuid.New(),
		Seq:       1,
		EventType: "QuestionStarted",
		Payload:   []byte(`{"question_index":0}`),
		CreatedAt: time.Now(),
	}
}

// TestDeliverRetriesThenMarksSent verifies transient broker failures are
// retried and the row is marked sent only after the broker accepted it.
func TestDeliverRetriesThenMarksSent(t *testing.T) {
	event := testEvent()
	src := newMemorySource(event)
	pub := &flakyPublisher{failures: 2}
	l := testListener(src, pub)

	if err := l.deliver(context.Background(), event); err != nil {
		t.Fatalf("deliver error: %v", err)
	}
	if pub.calls != 3 {
		t.Fatalf("publish calls = %d, want 3", pub.calls)
	}
	if !src.sent[event.ID] {
		t.Fatalf("event not marked sent after successful publish")
	}
}

// TestDeliverGivesUpAndLeavesUnsent verifies a permanently failing broker
// exhausts the retries without marking the row, so the sweep retries later.
func TestDeliverGivesUpAndLeavesUnsent(t *testing.T) {
	event := testEvent()
	src := newMemorySource(event)
	pub := &flakyPublisher{failures: 1 << 30}
	l := testListener(src, pub)

	if err := l.deliver(context.Background(), event); err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if pub.calls != l.cfg.MaxRetries+1 {
		t.Fatalf("publish calls = %d, want %d", pub.calls, l.cfg.MaxRetries+1)
	}
	if src.sent[event.ID] {
		t.Fatalf("failed event must stay unsent")
	}
}

// TestShipOneSkipsAlreadySentEvent verifies a notification for a row another
// path already shipped is a no-op, not an error.
func TestShipOneSkipsAlreadySentEvent(t *testing.T) {
	event := testEvent()
	src := newMemorySource(event)
	src.sent[event.ID] = true
	pub := &flakyPublisher{}
	l := testListener(src, pub)

	if err := l.shipOne(context.Background(), event.ID.String()); err != nil {
		t.Fatalf("shipOne error: %v", err)
	}
	if pub.calls != 0 {
		t.Fatalf("already-sent event must not be published")
	}
}

// TestShipOneRejectsBadPayload verifies a malformed notification payload is
// reported instead of crashing the loop.
func TestShipOneRejectsBadPayload(t *testing.T) {
	l := testListener(newMemorySource(), &flakyPublisher{})

	if err := l.shipOne(context.Background(), "not-a-uuid"); err == nil {
		t.Fatalf("expected error for non-uuid notification payload")
	}
}

// TestSweepShipsAllPending verifies the fallback sweep publishes and marks
// every unsent row.
func TestSweepShipsAllPending(t *testing.T) {
	a, b := testEvent(), testEvent()
	src := newMemorySource(a, b)
	pub := &flakyPublisher{}
	l := testListener(src, pub)

	if err := l.sweepUnsent(context.Background()); err != nil {
		t.Fatalf("sweepUnsent error: %v", err)
	}
	if !src.sent[a.ID] || !src.sent[b.ID] {
		t.Fatalf("sweep left events unsent: %v", src.sent)
	}
	if len(pub.accepted) != 2 {
		t.Fatalf("published = %d events, want 2", len(pub.accepted))
	}
}
