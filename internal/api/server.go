// Package api exposes the engine over HTTP: mint, burn and onboarding
// routes, model and transition queries, and a websocket feed of transitions.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"model-token-engine/internal/coordinator"
	"model-token-engine/internal/journal"
	"model-token-engine/internal/observability"
	"model-token-engine/internal/storage"
)

// SecretHeader carries the shared secret on mutating requests.
const SecretHeader = "X-App-Secret"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Engine is the coordinator surface the handlers call.
type Engine interface {
	Mint(ctx context.Context, req coordinator.MintRequest) (*coordinator.Result, error)
	Burn(ctx context.Context, req coordinator.BurnRequest) (*coordinator.Result, error)
	CreateToken(ctx context.Context, req coordinator.CreateTokenRequest) (*coordinator.TokenResult, error)
	InitWallet(ctx context.Context) (*coordinator.Wallet, error)
}

// Compile-time interface check.
var _ Engine = (*coordinator.Coordinator)(nil)

// Server holds the handlers' dependencies.
type Server struct {
	engine  Engine
	models  storage.ModelStore
	events  storage.EventStore
	history storage.PriceHistoryStore
	journal *journal.Recorder
	logger  logrus.FieldLogger

	secret      string
	corsOrigins []string
	started     time.Time
}

// Options for creating Server.
type Options struct {
	Engine  Engine
	Models  storage.ModelStore
	Events  storage.EventStore
	History storage.PriceHistoryStore // optional; /prices returns 404 when nil
	Journal *journal.Recorder         // optional; the stream route is disabled when nil
	Logger  logrus.FieldLogger

	AppSecret   string   // required for mutating routes; empty rejects them all
	CORSOrigins []string // empty disables CORS handling
}

// NewServer creates a new Server.
func NewServer(opts Options) *Server {
	return &Server{
		engine:      opts.Engine,
		models:      opts.Models,
		events:      opts.Events,
		history:     opts.History,
		journal:     opts.Journal,
		logger:      opts.Logger.WithField("component", "api"),
		secret:      opts.AppSecret,
		corsOrigins: opts.CORSOrigins,
		started:     time.Now(),
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	// go-chi/cors treats an empty origin list as "allow all".
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", SecretHeader},
			MaxAge:         600,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", observability.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/models/{id}", s.handleGetModel)
		r.Get("/models/{id}/events", s.handleModelEvents)
		r.Get("/models/{id}/prices", s.handlePriceHistory)
		r.Get("/operations/{id}/events", s.handleOperationEvents)
		r.Get("/events/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSecret)
			r.Use(middleware.AllowContentType("application/json"))

			r.Post("/models/{id}/mint", s.handleMint)
			r.Post("/models/{id}/burn", s.handleBurn)
			r.Post("/tokens", s.handleCreateToken)
			r.Post("/wallets", s.handleCreateWallet)
		})
	})

	return r
}
