package server

import (
	"encoding/json"
	"net/http"
)

// handleHealthz serves both GET / and GET /healthz with a bare liveness
// body; neither requires tenant resolution.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
