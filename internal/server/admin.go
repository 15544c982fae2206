package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mira-ai/antigravity-gateway/internal/gateway"
)

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Facade.Stats.Aggregate())
}

func (s *Server) handleAdminAccounts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Facade.Pool.Views())
}

func (s *Server) handleAdminLogs(w http.ResponseWriter, r *http.Request) {
	limit := parseLimitParam(r, 200)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Facade.Stats.Logs(limit))
}

func (s *Server) handleAdminGetConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Facade.Config())
}

// handleAdminPostConfig applies a config patch and, per spec §4.1, restarts
// the listener in place when the patch changes host or port.
func (s *Server) handleAdminPostConfig(w http.ResponseWriter, r *http.Request) {
	var patch gateway.RuntimeConfig
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
		return
	}

	restartNeeded := s.Facade.ApplyConfigPatch(patch)

	s.mu.Lock()
	running := s.httpServer != nil
	s.mu.Unlock()

	if restartNeeded && running {
		if _, err := s.Restart(context.Background(), patch.Host, patch.Port); err != nil {
			writeError(w, r, http.StatusInternalServerError, "api_error", "restart failed: "+err.Error())
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Facade.Config())
}
