package main

import (
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(services *Services) *http.Server {
	mux := http.NewServeMux()
	services.Actions.RegisterRoutes(mux)
	services.WebSocket.RegisterRoutes(mux)
	mux.HandleFunc("GET /health", handleHealth)

	// Browser clients hit the API cross-origin during development.
	corsWrapper := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	// h2c lets gateway deployments terminate TLS in front of us while
	// clients still negotiate HTTP/2.
	return &http.Server{
		Addr:    fmt.Sprintf(":%s", getEnv("PORT", "8080")),
		Handler: h2c.NewHandler(corsWrapper.Handler(mux), &http2.Server{}),
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}
