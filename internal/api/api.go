package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/mission"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/store"
)

// Server provides the REST API handlers.
type Server struct {
	engine *mission.Engine
	store  store.Store
}

// NewServer creates a new API server.
// The store may be nil, in which case the team routes report an empty roster.
func NewServer(e *mission.Engine, s store.Store) *Server {
	return &Server{engine: e, store: s}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/mission", s.getMission)
	mux.HandleFunc("POST /api/v1/missions", s.launchMission)
	mux.HandleFunc("POST /api/v1/mission/stop", s.stopMission)
	mux.HandleFunc("POST /api/v1/mission/abort", s.abortMission)
	mux.HandleFunc("GET /api/v1/mission/artifacts", s.listArtifacts)
	mux.HandleFunc("GET /api/v1/mission/activity", s.listActivity)

	mux.HandleFunc("GET /api/v1/approvals", s.listApprovals)
	mux.HandleFunc("POST /api/v1/approvals/{id}/approve", s.approve)
	mux.HandleFunc("POST /api/v1/approvals/{id}/deny", s.deny)

	mux.HandleFunc("GET /api/v1/agents/{id}/output", s.agentOutput)
	mux.HandleFunc("POST /api/v1/agents/{id}/steer", s.steerAgent)
	mux.HandleFunc("POST /api/v1/agents/{id}/kill", s.killAgent)
	mux.HandleFunc("POST /api/v1/agents/{id}/redispatch", s.redispatchAgent)

	mux.HandleFunc("GET /api/v1/team", s.listTeam)

	mux.HandleFunc("GET /api/v1/reports", s.listReports)
	mux.HandleFunc("GET /api/v1/reports/{id}", s.getReport)
	mux.HandleFunc("GET /api/v1/history", s.listHistory)

	mux.HandleFunc("GET /api/v1/checkpoint", s.getCheckpoint)
	mux.HandleFunc("POST /api/v1/checkpoint/abort", s.abortCheckpoint)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine and store sentinels onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mission.ErrEmptyGoal),
		errors.Is(err, mission.ErrNoTeam),
		errors.Is(err, mission.ErrUnknownTopology):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, mission.ErrNoMission):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, mission.ErrUnknownAgent),
		errors.Is(err, mission.ErrUnknownApproval),
		errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func queryLimit(r *http.Request, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return def
}

// --- Mission ---

func (s *Server) getMission(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot()
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) launchMission(w http.ResponseWriter, r *http.Request) {
	var req mission.LaunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id, err := s.engine.Launch(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"mission_id": id})
}

func (s *Server) stopMission(w http.ResponseWriter, r *http.Request) {
	rep, err := s.engine.Stop(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) abortMission(w http.ResponseWriter, r *http.Request) {
	rep, err := s.engine.Abort(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot()
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	arts := snap.Artifacts
	if agent := r.URL.Query().Get("agent"); agent != "" {
		arts = arts[:0:0]
		for _, a := range snap.Artifacts {
			if a.AgentID == agent {
				arts = append(arts, a)
			}
		}
	}
	writeJSON(w, http.StatusOK, arts)
}

func (s *Server) listActivity(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot()
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	events := snap.Activity
	if n := queryLimit(r, 0); n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Approvals ---

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	status := models.ApprovalStatus(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, s.engine.ListApprovals(status))
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) deny(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.Deny(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// --- Agents ---

func (s *Server) agentOutput(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"agent_id": r.PathValue("id"),
		"output":   s.engine.AgentOutput(r.PathValue("id")),
	})
}

func (s *Server) steerAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if err := s.engine.Steer(r.Context(), r.PathValue("id"), body.Message); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) killAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.KillAgent(r.Context(), r.PathValue("id")); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "killed"})
}

func (s *Server) redispatchAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Redispatch(r.Context(), r.PathValue("id")); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "redispatched"})
}

func (s *Server) listTeam(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []models.TeamMember{})
		return
	}
	team, err := s.store.ListTeamMembers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, team)
}

// --- Reports & history ---

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.engine.Reports(r.Context(), queryLimit(r, 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.engine.Report(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = w.Write([]byte(rep.ReportText))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.engine.History(r.Context(), queryLimit(r, 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

// --- Checkpoint ---

func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := s.engine.Resumable(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cp == nil {
		writeError(w, http.StatusNotFound, "no resumable checkpoint")
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) abortCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := s.engine.AbortStale(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if cp == nil {
		writeError(w, http.StatusNotFound, "no resumable checkpoint")
		return
	}
	writeJSON(w, http.StatusOK, cp)
}
