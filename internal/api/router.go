package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agent-beacon/backend/internal/action"
	"github.com/agent-beacon/backend/internal/ingest"
	"github.com/agent-beacon/backend/internal/reaper"
	"github.com/agent-beacon/backend/internal/session"
	"github.com/agent-beacon/backend/internal/ws"
)

// Server bundles the collaborators the handlers need.
type Server struct {
	store       *session.Store
	ingestor    *ingest.Ingestor
	reaper      *reaper.Reaper
	dispatcher  *action.Dispatcher
	broadcaster *ws.Broadcaster
	logger      *slog.Logger
}

func NewServer(
	store *session.Store,
	ingestor *ingest.Ingestor,
	rp *reaper.Reaper,
	dispatcher *action.Dispatcher,
	broadcaster *ws.Broadcaster,
	logger *slog.Logger,
) *Server {
	return &Server{
		store:       store,
		ingestor:    ingestor,
		reaper:      rp,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Router builds the chi router with all routes and middleware. The
// websocket route sits outside the logging middleware: the status-capturing
// writer would hide the Hijacker the upgrade needs.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(Recovery(s.logger))

	r.Get("/health", s.handleHealth)
	if s.broadcaster != nil {
		r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
			s.broadcaster.HandleWS(w, req)
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(RequestID)
		r.Use(Logger(s.logger))

		r.Route("/api", func(r chi.Router) {
			r.Post("/events", s.handleEvent)
			r.Get("/sessions", s.handleListSessions)
			r.Get("/sessions/{id}", s.handleGetSession)
			r.Post("/actions", s.handleAction)
			r.Route("/admin", func(r chi.Router) {
				r.Post("/cleanup", s.handleCleanup)
				r.Post("/prune", s.handlePrune)
			})
		})
	})

	return r
}
