package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	shiperr "github.com/shipd-io/shipd/pkg/errors"
	"github.com/shipd-io/shipd/pkg/event"
	"github.com/shipd-io/shipd/pkg/orchestrator"
	"github.com/shipd-io/shipd/pkg/run"
	"github.com/shipd-io/shipd/pkg/runstore"
	"github.com/shipd-io/shipd/pkg/trigger"
)

// Server exposes the orchestrator over HTTP: trigger submission, run
// inspection, and the approval signals for suspended runs.
type Server struct {
	Orchestrator *orchestrator.Orchestrator
	Runs         runstore.Store
	Events       *event.Ring
	Logger       log.Logger
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.NewRoute().Methods("POST").Path("/api/v1/trigger").HandlerFunc(s.handleTrigger)
	r.NewRoute().Methods("GET").Path("/api/v1/runs").HandlerFunc(s.handleListRuns)
	r.NewRoute().Methods("GET").Path("/api/v1/runs/{id}").HandlerFunc(s.handleGetRun)
	r.NewRoute().Methods("GET").Path("/api/v1/runs/{id}/events").HandlerFunc(s.handleRunEvents)
	r.NewRoute().Methods("POST").Path("/api/v1/runs/{id}/approve").HandlerFunc(s.handleApprove)
	r.NewRoute().Methods("POST").Path("/api/v1/runs/{id}/reject").HandlerFunc(s.handleReject)
	r.NewRoute().Methods("POST").Path("/api/v1/runs/{id}/cancel").HandlerFunc(s.handleCancel)
	return r
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var ev trigger.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decoding trigger event"))
		return
	}
	created, err := s.Orchestrator.Submit(r.Context(), ev)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if created == nil {
		// valid event, suppressed by the activation rule
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.Runs.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := run.ID(mux.Vars(r)["id"])
	got, err := s.Runs.Get(id)
	if err != nil {
		if errors.Cause(err) == runstore.ErrNotFound {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := run.ID(mux.Vars(r)["id"])
	if _, err := s.Runs.Get(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Events.For(id))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.signal(w, r, s.Orchestrator.Approve)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.signal(w, r, s.Orchestrator.Reject)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.signal(w, r, s.Orchestrator.Cancel)
}

func (s *Server) signal(w http.ResponseWriter, r *http.Request, fn func(run.ID) error) {
	id := run.ID(mux.Vars(r)["id"])
	if err := fn(id); err != nil {
		switch errors.Cause(err) {
		case runstore.ErrNotFound:
			writeError(w, http.StatusNotFound, err)
		case orchestrator.ErrNotSuspended, orchestrator.ErrRunTerminal:
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	if helpful, ok := errors.Cause(err).(shiperr.HelpfulError); ok {
		writeJSON(w, code, helpful.Base())
		return
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
