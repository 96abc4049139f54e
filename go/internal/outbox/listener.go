package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ListenerConfig tunes the LISTEN/NOTIFY loop and its polling fallback.
type ListenerConfig struct {
	DatabaseURL      string
	NotifyChannel    string
	FallbackInterval time.Duration // sweep cadence for missed notifications
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int32
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    "quizbuzz_events",
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}

// Publisher pushes one event to the broker.
type Publisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
}

// EventSource is the slice of the repository the listener drains from.
type EventSource interface {
	FetchEventByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error)
	FetchUnsent(ctx context.Context, limit int32) ([]OutboxEvent, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
}

// Listener drains the event log toward the broker. The hot path is
// pg_notify: every append wakes it with the event id and it ships that one
// row. The sweep covers notifications lost to connection drops. A row is
// marked sent only after the broker accepted it, so delivery is
// at-least-once and stream consumers dedupe on event id.
type Listener struct {
	repo      EventSource
	publisher Publisher
	pg        *pq.Listener
	cfg       ListenerConfig
}

func NewListener(repo EventSource, publisher Publisher, cfg ListenerConfig) (*Listener, error) {
	pgl := pq.NewListener(cfg.DatabaseURL, 10*time.Second, time.Minute,
		func(_ pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("pg listener event")
			}
		})
	if err := pgl.Listen(cfg.NotifyChannel); err != nil {
		pgl.Close()
		return nil, fmt.Errorf("LISTEN %s: %w", cfg.NotifyChannel, err)
	}

	return &Listener{repo: repo, publisher: publisher, pg: pgl, cfg: cfg}, nil
}

func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("sweep_every", l.cfg.FallbackInterval).
		Msg("outbox listener running")

	sweep := time.NewTicker(l.cfg.FallbackInterval)
	defer sweep.Stop()
	ping := time.NewTicker(l.cfg.PingInterval)
	defer ping.Stop()

	// Ship anything left over from before the last shutdown.
	if err := l.sweepUnsent(ctx); err != nil {
		log.Error().Err(err).Msg("initial outbox sweep failed")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox listener stopped")
			return l.pg.Close()

		case note := <-l.pg.Notify:
			// A nil notification signals a reconnect; the sweep picks up
			// whatever was appended while the connection was down.
			if note == nil {
				continue
			}
			if err := l.shipOne(ctx, note.Extra); err != nil {
				log.Error().Err(err).Str("notify_payload", note.Extra).Msg("failed to ship notified event")
			}

		case <-sweep.C:
			if err := l.sweepUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("outbox sweep failed")
			}

		case <-ping.C:
			if err := l.pg.Ping(); err != nil {
				log.Error().Err(err).Msg("pg listener ping failed")
			}
		}
	}
}

// shipOne resolves a pg_notify payload (an event id) and publishes that row.
func (l *Listener) shipOne(ctx context.Context, payload string) error {
	id, err := uuid.Parse(payload)
	if err != nil {
		return fmt.Errorf("notification payload is not an event id: %w", err)
	}

	event, err := l.repo.FetchEventByID(ctx, id)
	if errors.Is(err, ErrEventGone) {
		// Already shipped by the sweep or another instance.
		return nil
	}
	if err != nil {
		return err
	}
	return l.deliver(ctx, *event)
}

// sweepUnsent publishes every row still marked unsent, oldest first.
func (l *Listener) sweepUnsent(ctx context.Context) error {
	pending, err := l.repo.FetchUnsent(ctx, l.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, event := range pending {
		if err := l.deliver(ctx, event); err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("sweep delivery failed")
		}
	}
	return nil
}

// deliver publishes one event with linear backoff and marks the row sent on
// success.
func (l *Listener) deliver(ctx context.Context, event OutboxEvent) error {
	var lastErr error
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		if lastErr = l.publisher.Publish(ctx, event); lastErr != nil {
			log.Warn().
				Err(lastErr).
				Str("event_id", event.ID.String()).
				Int("attempt", attempt+1).
				Msg("publish failed, backing off")
			continue
		}
		return l.repo.MarkSent(ctx, event.ID)
	}
	return fmt.Errorf("publish of %s gave up after %d attempts: %w",
		event.ID, l.cfg.MaxRetries+1, lastErr)
}
