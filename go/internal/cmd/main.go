package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/quizbuzz/quizbuzz/go/internal/dbconfig"
	"github.com/quizbuzz/quizbuzz/go/internal/game/gateway"
	"github.com/quizbuzz/quizbuzz/go/internal/outbox"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	config, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbCfg := dbconfig.NewConfigFromEnv()
	pool, err := setupPool(ctx, dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up connection pool")
	}
	defer pool.Close()

	services := setupServices(pool, dbCfg.DSN(), config.Game)

	go services.Connections.Start(ctx)

	// Outbox: LISTEN/NOTIFY drains appended events into the broker, and the
	// gateway consumer fans them out to WebSocket clients.
	natsURL := getEnv("NATS_URL", config.NATS.URL)
	var publisher outbox.Publisher
	var consumer *gateway.EventConsumer
	if config.NATS.Disabled || natsURL == "" {
		log.Warn().Msg("NATS disabled, events will not reach WebSocket clients")
		publisher = outbox.LogPublisher{}
	} else {
		pubCfg := outbox.DefaultJetStreamPublisherConfig()
		pubCfg.URL = natsURL
		jsPublisher, err := outbox.NewJetStreamPublisher(pubCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up JetStream publisher")
		}
		defer jsPublisher.Close()
		publisher = jsPublisher

		consumerCfg := gateway.DefaultJetStreamConsumerConfig()
		consumerCfg.URL = natsURL
		consumer, err = gateway.NewEventConsumer(services.Connections, consumerCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up event consumer")
		}
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer stopped")
			}
		}()
	}

	sqlDB, err := setupSQL(dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up listener connection")
	}
	defer sqlDB.Close()

	listenerCfg := outbox.DefaultListenerConfig()
	listenerCfg.DatabaseURL = dbCfg.DSN()
	if config.Outbox.FallbackIntervalSeconds > 0 {
		listenerCfg.FallbackInterval = time.Duration(config.Outbox.FallbackIntervalSeconds) * time.Second
	}
	if config.Outbox.BatchSize > 0 {
		listenerCfg.BatchSize = int32(config.Outbox.BatchSize)
	}
	listener, err := outbox.NewListener(outbox.NewRepository(sqlDB), publisher, listenerCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up outbox listener")
	}
	go func() {
		if err := listener.Start(ctx); err != nil {
			log.Error().Err(err).Msg("outbox listener stopped")
		}
	}()

	server := setupServer(services)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	cancel()
	services.Registry.Shutdown()
	if consumer != nil {
		consumer.Stop()
	}
	log.Info().Msg("shutdown complete")
}
