package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/quizbuzz/quizbuzz/go/internal/models"
	"github.com/rs/zerolog/log"
)

// JetStreamConsumerConfig holds the durable-consumer settings for the
// gateway's read side of the event stream.
type JetStreamConsumerConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	ReconnectWait time.Duration
}

// DefaultJetStreamConsumerConfig returns the standard consumer configuration.
func DefaultJetStreamConsumerConfig() JetStreamConsumerConfig {
	return JetStreamConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    "QUIZ_EVENTS",
		ConsumerName:  "quiz-gateway",
		SubjectFilter: "quizbuzz.events.>",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		ReconnectWait: 2 * time.Second,
	}
}

// EventConsumer is the bridge from the event stream to connected clients:
// every envelope the outbox publishes is picked up here and fanned out to the
// lobby's WebSocket room. Delivery starts at new messages only; clients
// recover history through the events endpoint, not the stream.
type EventConsumer struct {
	rooms    *ConnectionManager
	nc       *nats.Conn
	consumer jetstream.Consumer
	cfg      JetStreamConsumerConfig
}

func NewEventConsumer(rooms *ConnectionManager, cfg JetStreamConsumerConfig) (*EventConsumer, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	consumer, err := js.CreateOrUpdateConsumer(context.Background(), cfg.StreamName, jetstream.ConsumerConfig{
		Name:          cfg.ConsumerName,
		Durable:       cfg.ConsumerName,
		Description:   "fans lobby events out to WebSocket clients",
		FilterSubject: cfg.SubjectFilter,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    cfg.MaxDeliver,
		AckWait:       cfg.AckWait,
		MaxAckPending: cfg.MaxAckPending,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create consumer %s on %s: %w", cfg.ConsumerName, cfg.StreamName, err)
	}

	return &EventConsumer{rooms: rooms, nc: nc, consumer: consumer, cfg: cfg}, nil
}

// Start pulls from the durable consumer until ctx is cancelled. Envelopes
// that fail to decode are acked anyway; redelivering a poison message five
// more times will not make it parseable.
func (ec *EventConsumer) Start(ctx context.Context) error {
	log.Info().
		Str("stream", ec.cfg.StreamName).
		Str("consumer", ec.cfg.ConsumerName).
		Msg("event consumer running")

	cc, err := ec.consumer.Consume(func(msg jetstream.Msg) {
		if err := ec.fanOut(msg.Data()); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("dropping undecodable event")
		}
		if err := msg.Ack(); err != nil {
			log.Error().Err(err).Msg("failed to ack event")
		}
	})
	if err != nil {
		return fmt.Errorf("start consume loop: %w", err)
	}

	<-ctx.Done()
	cc.Stop()
	log.Info().Msg("event consumer stopped")
	return nil
}

// fanOut decodes one published envelope and hands it to the lobby's room.
func (ec *EventConsumer) fanOut(data []byte) error {
	var env struct {
		EventID   string          `json:"eventId"`
		EventType string          `json:"eventType"`
		LobbyID   string          `json:"lobbyId"`
		Seq       int64           `json:"seq"`
		Timestamp time.Time       `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}
	lobbyID, err := uuid.Parse(env.LobbyID)
	if err != nil {
		return fmt.Errorf("envelope lobby id %q: %w", env.LobbyID, err)
	}

	ec.rooms.BroadcastToLobby(lobbyID, &LobbyEvent{
		ID:        env.EventID,
		LobbyID:   env.LobbyID,
		Seq:       env.Seq,
		Type:      models.EventType(env.EventType),
		Timestamp: env.Timestamp,
		Data:      env.Payload,
	})
	return nil
}

// Stop closes the NATS connection.
func (ec *EventConsumer) Stop() error {
	if ec.nc != nil {
		ec.nc.Close()
	}
	return nil
}
