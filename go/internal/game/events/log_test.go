package events

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/quizbuzz/quizbuzz/go/internal/models"
	"github.com/quizbuzz/quizbuzz/go/internal/store"
)

// flakyGateway fails AppendEvent a fixed number of times before delegating to
// the in-memory gateway.
type flakyGateway struct {
	*store.Memory
	failures int
	calls    int
}

func (f *flakyGateway) AppendEvent(ctx context.Context, event *models.GameEvent) error {
	f.calls++
	if f.calls <= f.failures {
		return fmt.Errorf("transient database error")
	}
	return f.Memory.AppendEvent(ctx, event)
}

// TestAppendRetriesTransientFailures verifies an append survives transient
// gateway errors within the retry budget.
func TestAppendRetriesTransientFailures(t *testing.T) {
	gw := &flakyGateway{Memory: store.NewMemory(), failures: 2}
	clock := clockwork.NewFakeClock()
	log := NewLog(gw).WithClock(clock)
	lobbyID := uuid.New()

	type result struct {
		event *models.GameEvent
		err   error
	}
	done := make(chan result, 1)
	go func() {
		event, err := log.Append(context.Background(), lobbyID, models.EventPlayerJoined, "alice", PlayerJoinedPayload{PlayerID: "alice"})
		done <- result{event, err}
	}()

	// Two failures mean two backoff waits: 100ms then 200ms.
	clock.BlockUntil(1)
	clock.Advance(defaultBaseDelay)
	clock.BlockUntil(1)
	clock.Advance(2 * defaultBaseDelay)

	res := <-done
	if res.err != nil {
		t.Fatalf("Append error: %v", res.err)
	}
	if res.event.Seq != 1 {
		t.Fatalf("Seq = %d, want 1", res.event.Seq)
	}
	if gw.calls != 3 {
		t.Fatalf("calls = %d, want 3", gw.calls)
	}
}

// TestAppendExhaustionReturnsPersistenceFailure verifies the bounded retry
// gives up with ErrPersistenceFailure so the coordinator can pause.
func TestAppendExhaustionReturnsPersistenceFailure(t *testing.T) {
	gw := &flakyGateway{Memory: store.NewMemory(), failures: 100}
	clock := clockwork.NewFakeClock()
	log := NewLog(gw).WithClock(clock)

	done := make(chan error, 1)
	go func() {
		_, err := log.Append(context.Background(), uuid.New(), models.EventBuzzWon, "bob", BuzzWonPayload{PlayerID: "bob"})
		done <- err
	}()

	clock.BlockUntil(1)
	clock.Advance(defaultBaseDelay)
	clock.BlockUntil(1)
	clock.Advance(2 * defaultBaseDelay)

	err := <-done
	if !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("err = %v, want ErrPersistenceFailure", err)
	}
	if gw.calls != defaultMaxAttempts {
		t.Fatalf("calls = %d, want %d", gw.calls, defaultMaxAttempts)
	}
}

// TestAppendAssignsGaplessSequence verifies consecutive appends get strictly
// increasing sequence numbers with no gaps.
func TestAppendAssignsGaplessSequence(t *testing.T) {
	gw := store.NewMemory()
	log := NewLog(gw)
	lobbyID := uuid.New()

	for i := 0; i < 5; i++ {
		event, err := log.Append(context.Background(), lobbyID, models.EventPlayerJoined, "p", PlayerJoinedPayload{})
		if err != nil {
			t.Fatalf("Append %d error: %v", i, err)
		}
		if event.Seq != int64(i+1) {
			t.Fatalf("Seq = %d, want %d", event.Seq, i+1)
		}
	}

	events, err := gw.ListEvents(context.Background(), lobbyID, 0, 100)
	if err != nil {
		t.Fatalf("ListEvents error: %v", err)
	}
	for i, e := range events {
		if e.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d, want %d", i, e.Seq, i+1)
		}
	}
}
