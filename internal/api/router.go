package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/mcoot/partyrelay/internal/api/apierr"
	"github.com/mcoot/partyrelay/internal/api/handler"
	"github.com/mcoot/partyrelay/internal/api/middleware"
	httpmiddleware "github.com/mcoot/partyrelay/internal/middleware"
	"github.com/mcoot/partyrelay/internal/relay"
	"github.com/mcoot/partyrelay/internal/services/auth"
	"github.com/mcoot/partyrelay/internal/services/session"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger      *slog.Logger
	AuthService *auth.Service
	Sessions    *session.Controller
	Relay       *relay.Router
	Storage     handler.Pinger
	// Gatherer backs /metrics; prometheus.DefaultGatherer when nil
	Gatherer prometheus.Gatherer
	// CORSOrigins lists allowed browser origins; "*" allows any
	CORSOrigins []string
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	sessionHandler := handler.NewSessionHandler(cfg.Sessions, cfg.Relay, cfg.Logger)
	healthHandler := handler.NewHealthHandler(cfg.Storage, cfg.Logger)

	// Create middleware
	authMiddleware := middleware.Auth(cfg.AuthService)

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(httpmiddleware.Recovery(cfg.Logger, apierr.WritePanic))
	api.Use(httpmiddleware.Logging(cfg.Logger))
	api.Use(httpmiddleware.Metrics())

	// Public session routes
	api.HandleFunc("/sessions/{code}", sessionHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{code}/join", sessionHandler.Join).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/players", sessionHandler.Players).Methods(http.MethodGet)

	// Websocket upgrade authorizes per role itself
	api.HandleFunc("/sessions/{id}/ws", sessionHandler.Connect).Methods(http.MethodGet)

	// Host routes
	host := api.NewRoute().Subrouter()
	host.Use(authMiddleware)
	host.HandleFunc("/sessions", sessionHandler.Create).Methods(http.MethodPost)
	host.HandleFunc("/sessions/{id}/end", sessionHandler.End).Methods(http.MethodPost)
	host.HandleFunc("/sessions/{id}/game", sessionHandler.LoadGame).Methods(http.MethodPost)

	// Health check endpoint (no auth)
	api.HandleFunc("/health", healthHandler.Check).Methods(http.MethodGet)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return newCORS(cfg.CORSOrigins).Handler(r)
}

func newCORS(origins []string) *cors.Cors {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         600,
	})
}
