// Package server exposes the deployment API over HTTP. Handlers are thin:
// they validate input, delegate to the sequencer and store, and translate
// errors into the shared error response shape.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pipewright/pipewright/internal/api"
	"github.com/pipewright/pipewright/internal/constants"
	"github.com/pipewright/pipewright/internal/deploy"
	"github.com/pipewright/pipewright/internal/store"

	"github.com/go-chi/chi/v5"
)

// DefaultRequestTimeout bounds synchronous request handling. Full runs are
// executed in the background and are not subject to it.
const DefaultRequestTimeout = 30 * time.Second

// Orchestrator is the run-execution surface the handlers need. Implemented by
// deploy.Sequencer; substituted in tests.
type Orchestrator interface {
	NewRun(cfg api.RunConfig) (*api.DeploymentRun, error)
	Run(ctx context.Context, runID string) error
	ClaimStep(runID string, kind deploy.StepKind) error
	CompleteStep(ctx context.Context, runID string, kind deploy.StepKind) error
}

// Router wires the chi mux, the run store, and the orchestrator.
type Router struct {
	router *chi.Mux
	store  *store.Store
	orch   Orchestrator
	log    *slog.Logger

	requestTimeout time.Duration
}

// NewRouter creates a router with all routes and middleware configured.
func NewRouter(st *store.Store, orch Orchestrator, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	router := &Router{
		router:         r,
		store:          st,
		orch:           orch,
		log:            log,
		requestTimeout: DefaultRequestTimeout,
	}

	r.Use(router.requestIDMiddleware)
	r.Use(router.requestTimeoutMiddleware(router.requestTimeout))
	r.Use(router.requestLoggingMiddleware)
	r.Use(corsMiddleware)
	r.Use(setContentTypeJSONMiddleware)

	r.Route(constants.APIBasePath, func(r chi.Router) {
		r.Get("/health", router.handleHealth)

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", router.handleCreateRun)
			r.Get("/", router.handleListRuns)
			r.Get("/{runID}", router.handleGetRun)
			r.Post("/{runID}/steps/{step}", router.handleRunStep)
			r.Post("/{runID}/cancel", router.handleCancelRun)
		})
	})

	return router
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}

// Handler returns an http.Handler for the router.
func (r *Router) Handler() http.Handler {
	return r.router
}
