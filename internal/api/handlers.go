package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/castellanhq/castellan/internal/events"
	"github.com/castellanhq/castellan/internal/history"
)

// HealthzResponse is the GET /healthz payload.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	PluginsLoaded int    `json:"plugins_loaded"`
}

// PluginInfo is one entry in the GET /plugins payload.
type PluginInfo struct {
	Name         string    `json:"name"`
	Keywords     []string  `json:"keywords"`
	Isolated     bool      `json:"isolated"`
	Network      string    `json:"network"`
	HealthStatus string    `json:"health_status"`
	HealthDetail string    `json:"health_detail,omitempty"`
	LoadedAt     time.Time `json:"loaded_at"`
}

// AskRequest is the POST /ask body.
type AskRequest struct {
	Query string `json:"query"`
}

// PluginHistoryResponse is the GET /plugins/{plugin}/history payload.
type PluginHistoryResponse struct {
	Plugin   string                 `json:"plugin"`
	Health   []history.HealthEntry  `json:"health"`
	Restarts []history.RestartEntry `json:"restarts"`
}

// ErrorResponse is the common error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		PluginsLoaded: len(s.host.Plugins()),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleListPlugins handles GET /plugins.
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	handles := s.host.Plugins()
	out := make([]PluginInfo, 0, len(handles))
	for _, h := range handles {
		out = append(out, PluginInfo{
			Name:         h.Name,
			Keywords:     h.Keywords,
			Isolated:     h.Decision.Isolated,
			Network:      string(h.Decision.Network),
			HealthStatus: string(h.LastHealth.Status),
			HealthDetail: h.LastHealth.Detail,
			LoadedAt:     h.LoadedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleRestartPlugin handles POST /plugins/{plugin}/restart.
func (s *Server) handleRestartPlugin(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "plugin")
	if err := s.host.Restart(r.Context(), name); err != nil {
		s.logger.Error("manual restart failed", "plugin", name, "error", err)
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "restarted", "plugin": name})
}

// handlePluginHistory handles GET /plugins/{plugin}/history.
func (s *Server) handlePluginHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "plugin")
	limit := queryInt(r, "limit", 20)

	health, err := s.hist.RecentHealth(r.Context(), name, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	restarts, err := s.hist.Restarts(r.Context(), name, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, PluginHistoryResponse{Plugin: name, Health: health, Restarts: restarts})
}

// handleAsk handles POST /ask.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query is empty")
		return
	}

	result, err := s.host.Ask(r.Context(), req.Query)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleEvents handles GET /events?since=<id>, returning buffered events
// newer than the given id.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since := int64(queryInt(r, "since", 0))
	snapshot := s.hub.SnapshotSince(since)
	if snapshot == nil {
		snapshot = []events.Event{}
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
