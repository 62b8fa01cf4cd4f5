package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agent-beacon/backend/internal/action"
	"github.com/agent-beacon/backend/internal/hierarchy"
	"github.com/agent-beacon/backend/internal/ingest"
)

// Response is the uniform envelope for mutating endpoints.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

type actionRequest struct {
	SessionID string `json:"session_id"`
	Action    string `json:"action"`
	Response  string `json:"response,omitempty"`
}

type pruneRequest struct {
	Minutes int `json:"minutes"`
}

// handleEvent ingests one hook event. Malformed payloads are rejected
// wholesale with a 400; nothing is applied.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev ingest.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeResponse(w, http.StatusBadRequest, false, "invalid JSON: "+err.Error())
		return
	}

	if err := s.ingestor.Apply(ev); err != nil {
		var verr *ingest.ValidationError
		if errors.As(err, &verr) {
			writeResponse(w, http.StatusBadRequest, false, verr.Error())
			return
		}
		s.logger.Error("event apply failed", "kind", ev.Kind, "session", ev.SessionID, "error", err)
		writeResponse(w, http.StatusInternalServerError, false, "failed to apply event")
		return
	}

	writeResponse(w, http.StatusOK, true, "")
}

// handleListSessions returns the urgency-sorted aggregated root view.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	roots := hierarchy.Roots(s.store.All())
	if roots == nil {
		roots = []hierarchy.Aggregate{}
	}
	writeJSON(w, http.StatusOK, roots)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	agg, ok := hierarchy.Compute(s.store.All(), id)
	if !ok {
		writeResponse(w, http.StatusNotFound, false, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, http.StatusBadRequest, false, "invalid JSON: "+err.Error())
		return
	}
	if req.SessionID == "" {
		writeResponse(w, http.StatusBadRequest, false, "session_id is required")
		return
	}

	err := s.dispatcher.Dispatch(req.SessionID, action.Action(req.Action), req.Response)
	switch {
	case err == nil:
		writeResponse(w, http.StatusOK, true, "")
	case errors.Is(err, action.ErrUnknownSession):
		writeResponse(w, http.StatusNotFound, false, err.Error())
	case errors.Is(err, action.ErrUnsupportedTerminal):
		writeResponse(w, http.StatusConflict, false, err.Error())
	case errors.Is(err, action.ErrUnknownAction), errors.Is(err, action.ErrEmptyResponse):
		writeResponse(w, http.StatusBadRequest, false, err.Error())
	default:
		// Automation failed; pending state was left intact for retry.
		writeResponse(w, http.StatusBadGateway, false, err.Error())
	}
}

// handleCleanup runs a staleness sweep immediately.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	s.reaper.Sweep()
	writeResponse(w, http.StatusOK, true, "sweep complete")
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	var req pruneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, http.StatusBadRequest, false, "invalid JSON: "+err.Error())
		return
	}
	if req.Minutes <= 0 {
		writeResponse(w, http.StatusBadRequest, false, "minutes must be positive")
		return
	}

	removed := s.reaper.Prune(time.Duration(req.Minutes) * time.Minute)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"removed": removed,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: s.store.Count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeResponse(w http.ResponseWriter, status int, success bool, message string) {
	writeJSON(w, status, Response{Success: success, Message: message})
}
