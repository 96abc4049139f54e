package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/quizbuzz/quizbuzz/go/internal/models"
	"github.com/quizbuzz/quizbuzz/go/internal/store"
	"github.com/rs/zerolog/log"
)

// ErrPersistenceFailure is returned when an append exhausts its retries.
// The owning coordinator pauses the lobby when it sees this.
var ErrPersistenceFailure = errors.New("persistence failure")

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 100 * time.Millisecond
)

// Log appends game events through the persistence gateway with bounded
// exponential backoff on transient failures.
type Log struct {
	gateway     store.Gateway
	clock       clockwork.Clock
	maxAttempts int
	baseDelay   time.Duration
}

func NewLog(gateway store.Gateway) *Log {
	return &Log{
		gateway:     gateway,
		clock:       clockwork.NewRealClock(),
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
	}
}

// WithClock swaps the clock; tests use a fake to skip backoff waits.
func (l *Log) WithClock(clock clockwork.Clock) *Log {
	l.clock = clock
	return l
}

// Append marshals payload and persists the event, retrying transient gateway
// errors. Concurrency conflicts are not retried here; the event log has no
// version to conflict on, so any error is treated as transient.
func (l *Log) Append(ctx context.Context, lobbyID uuid.UUID, eventType models.EventType, playerID string, payload any) (*models.GameEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	event := &models.GameEvent{
		ID:       uuid.New(),
		LobbyID:  lobbyID,
		Type:     eventType,
		PlayerID: playerID,
		Payload:  data,
	}

	var lastErr error
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := l.baseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-l.clock.After(delay):
			}
		}

		if err := l.gateway.AppendEvent(ctx, event); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Str("lobby_id", lobbyID.String()).
				Str("event_type", string(eventType)).
				Int("attempt", attempt+1).
				Msg("event append failed, retrying")
			continue
		}
		return event, nil
	}

	return nil, fmt.Errorf("%w: append %s after %d attempts: %v",
		ErrPersistenceFailure, eventType, l.maxAttempts, lastErr)
}
