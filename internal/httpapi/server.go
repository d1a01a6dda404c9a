package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"agile-solo-strategy/internal/storage"
	"agile-solo-strategy/internal/strategy"
)

// ServerConfig holds REST surface configuration.
type ServerConfig struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StateAdmin mutates the singleton strategy state on operator request.
type StateAdmin interface {
	LoadState(ctx context.Context) (*strategy.State, error)
	SaveState(ctx context.Context, st *strategy.State) error
}

// Server exposes the operator REST API: band management, strategy
// switches, enrollment, and status. Every write is validated against
// the full band table before it is persisted, so the evaluation loop
// only ever sees a valid configuration.
type Server struct {
	router  *mux.Router
	server  *http.Server
	bands   storage.BandAdmin
	state   StateAdmin
	cycles  storage.CycleLog
	trigger func(reason string)
	logger  zerolog.Logger
}

// NewServer wires the REST surface. trigger may be nil when no
// scheduler is running (offline tooling).
func NewServer(cfg ServerConfig, bands storage.BandAdmin, state StateAdmin, cycles storage.CycleLog, trigger func(reason string), logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		router:  router,
		bands:   bands,
		state:   state,
		cycles:  cycles,
		trigger: trigger,
		logger:  logger.With().Str("component", "httpapi").Logger(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/strategy/enable", s.handleEnable).Methods(http.MethodPost)
	api.HandleFunc("/strategy/disable", s.handleDisable).Methods(http.MethodPost)
	api.HandleFunc("/strategy/evaluate", s.handleEvaluate).Methods(http.MethodPost)
	api.HandleFunc("/cycles", s.handleListCycles).Methods(http.MethodGet)

	api.HandleFunc("/bands", s.handleListBands).Methods(http.MethodGet)
	api.HandleFunc("/bands", s.handleInsertBand).Methods(http.MethodPost)
	api.HandleFunc("/bands/reset", s.handleResetBands).Methods(http.MethodPost)
	api.HandleFunc("/bands/{id:[0-9]+}", s.handleUpdateBand).Methods(http.MethodPut)
	api.HandleFunc("/bands/{id:[0-9]+}", s.handleDeleteBand).Methods(http.MethodDelete)
	api.HandleFunc("/bands/{id:[0-9]+}/champion", s.handleChampionToggle).Methods(http.MethodPost)

	api.HandleFunc("/devices/{id}/enroll", s.handleEnroll).Methods(http.MethodPost)
	api.HandleFunc("/devices/{id}/unenroll", s.handleUnenroll).Methods(http.MethodPost)
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("operator API listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
