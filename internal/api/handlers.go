package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sitewatch/monitor/internal/model"
	"github.com/sitewatch/monitor/internal/runtime"
	"github.com/sitewatch/monitor/internal/store"
)

// Runtime is the worker control surface the handlers drive.
type Runtime interface {
	GetAll() []runtime.Status
	TryGet(instanceID string) (runtime.Status, bool)
	Start(instanceID string)
	Stop(instanceID string)
	Restart(instanceID string)
}

// Server holds the dependencies needed by the handlers.
type Server struct {
	store   *store.Store
	runtime Runtime
}

// NewServer creates a Server over the store and the runtime manager.
func NewServer(st *store.Store, rt Runtime) *Server {
	return &Server{store: st, runtime: rt}
}

// handleHealthz responds to GET /healthz. No authentication; load balancers
// use it for liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListInstances responds to GET /api/v1/instances with all worker
// statuses.
func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	statuses := s.runtime.GetAll()
	if statuses == nil {
		statuses = []runtime.Status{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

// instanceView is the GET /instances/{id} response.
type instanceView struct {
	Instance *model.Instance `json:"instance"`
	Worker   *runtime.Status `json:"worker,omitempty"`
}

// handleGetInstance responds to GET /api/v1/instances/{id}.
func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, err := s.store.GetInstance(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load instance")
		return
	}
	if inst == nil {
		writeJSONError(w, http.StatusNotFound, "instance not found")
		return
	}
	view := instanceView{Instance: inst}
	if status, ok := s.runtime.TryGet(id); ok {
		view.Worker = &status
	}
	writeJSON(w, http.StatusOK, view)
}

// handleStart responds to POST /api/v1/instances/{id}/start.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.controlAction(w, r, s.runtime.Start)
}

// handleStop responds to POST /api/v1/instances/{id}/stop.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.controlAction(w, r, s.runtime.Stop)
}

// handleRestart responds to POST /api/v1/instances/{id}/restart.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.controlAction(w, r, s.runtime.Restart)
}

// controlAction validates the instance exists, applies the action, and
// returns the resulting worker status.
func (s *Server) controlAction(w http.ResponseWriter, r *http.Request, action func(string)) {
	id := chi.URLParam(r, "id")
	inst, err := s.store.GetInstance(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load instance")
		return
	}
	if inst == nil {
		writeJSONError(w, http.StatusNotFound, "instance not found")
		return
	}
	action(id)
	status, _ := s.runtime.TryGet(id)
	writeJSON(w, http.StatusOK, status)
}

// targetView is one row of the GET /instances/{id}/targets projection.
type targetView struct {
	Target *model.Target      `json:"target"`
	State  *model.TargetState `json:"state,omitempty"`
	// Status is "Up", "Down", "Degraded", or "Unknown" (never checked).
	Status string `json:"status"`
}

// handleListTargets responds to GET /api/v1/instances/{id}/targets with the
// joined target/state projection, including the display-only Degraded
// classification.
func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	targets, err := s.store.ListTargets(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list targets")
		return
	}
	states, err := s.store.ListStates(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list states")
		return
	}
	byID := make(map[int64]*model.TargetState, len(states))
	for _, st := range states {
		byID[st.TargetID] = st
	}

	views := make([]targetView, 0, len(targets))
	for _, t := range targets {
		v := targetView{Target: t, Status: "Unknown"}
		if st, ok := byID[t.ID]; ok {
			v.State = st
			switch {
			case st.Degraded():
				v.Status = "Degraded"
			case st.IsUp:
				v.Status = "Up"
			default:
				v.Status = "Down"
			}
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

// handleListEvents responds to GET /api/v1/instances/{id}/events.
//
// Supported query parameters:
//
//	limit  – maximum number of results (default 100, max 1000)
//	offset – pagination offset (default 0)
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		if n > 1000 {
			n = 1000
		}
		limit = n
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "'offset' must be a non-negative integer")
			return
		}
		offset = n
	}

	events, err := s.store.ListEvents(r.Context(), id, limit, offset)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []*model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// writeJSON writes v as a JSON response body.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
