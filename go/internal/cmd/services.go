package main

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizbuzz/quizbuzz/go/internal/game/coordinator"
	"github.com/quizbuzz/quizbuzz/go/internal/game/events"
	"github.com/quizbuzz/quizbuzz/go/internal/game/gateway"
	"github.com/quizbuzz/quizbuzz/go/internal/game/registry"
	"github.com/quizbuzz/quizbuzz/go/internal/lobby"
	"github.com/quizbuzz/quizbuzz/go/internal/question"
	"github.com/quizbuzz/quizbuzz/go/internal/session"
	"github.com/quizbuzz/quizbuzz/go/internal/store"
)

type Services struct {
	Store       *store.Postgres
	Questions   *question.App
	Lobbies     *lobby.App
	Sessions    *session.App
	Registry    *registry.Registry
	Actions     *gateway.ActionHandler
	Connections *gateway.ConnectionManager
	WebSocket   *gateway.WebSocketHandler
}

func setupServices(pool *pgxpool.Pool, dsn string, policy coordinator.Policy) *Services {
	// Wire up dependency injection chain
	// Store layer → App layer → Registry → HTTP/WebSocket gateway

	gw := store.NewPostgres(pool, dsn)

	questionRepo := question.NewRepository(pool)
	questionApp := question.NewApp(questionRepo)

	sessionApp := session.NewApp(gw)
	lobbyApp := lobby.NewApp(gw, questionApp)

	eventLog := events.NewLog(gw)
	reg := registry.New(gw, questionApp, sessionApp, eventLog, policy)

	connections := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), reg.PlayerDisconnected)
	wsHandler := gateway.NewWebSocketHandler(connections)
	actions := gateway.NewActionHandler(lobbyApp, questionApp, sessionApp, reg, gw)

	return &Services{
		Store:       gw,
		Questions:   questionApp,
		Lobbies:     lobbyApp,
		Sessions:    sessionApp,
		Registry:    reg,
		Actions:     actions,
		Connections: connections,
		WebSocket:   wsHandler,
	}
}
