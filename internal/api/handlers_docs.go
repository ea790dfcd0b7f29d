package api

import (
	"encoding/json"
	"net/http"
)

// handleDeleteDocuments removes every stored record of one source so it can
// be re-ingested from scratch.
func (s *Server) handleDeleteDocuments(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		jsonError(w, "source query parameter is required", http.StatusBadRequest)
		return
	}
	if s.docs == nil {
		jsonError(w, "vector store not configured", http.StatusServiceUnavailable)
		return
	}

	deleted, err := s.docs.DeleteSource(r.Context(), source)
	if err != nil {
		s.log.Error("delete source failed", "source", source, "error", err)
		jsonError(w, "failed to delete records: "+err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"source":  source,
		"deleted": deleted,
	})
}
