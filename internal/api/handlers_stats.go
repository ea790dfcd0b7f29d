package api

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.latency == nil {
		jsonError(w, "ingest stats unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ingest":        s.latency.Snapshot(),
		"queue_depth":   s.orchestrator.QueueDepth(),
		"store_enabled": s.orchestrator.StoreEnabled(),
	})
}
