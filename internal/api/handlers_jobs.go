package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docchunk/internal/pipeline"
)

func (s *Server) handleIngestDirectory(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req pipeline.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Root == "" {
		jsonError(w, "root is required", http.StatusBadRequest)
		return
	}
	root, err := resolveRoot(s.cfg.DataDir, req.Root)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Root = root
	if req.Pattern == "" {
		req.Pattern = s.cfg.DefaultPattern
	}
	if _, err := filepath.Match(req.Pattern, ""); err != nil {
		jsonError(w, fmt.Sprintf("invalid pattern %q", req.Pattern), http.StatusBadRequest)
		return
	}

	job, err := s.orchestrator.Submit(req)
	if err != nil {
		if errors.Is(err, pipeline.ErrQueueFull) {
			w.Header().Set("Retry-After", "5")
		}
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	snap := job.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":   snap.ID,
		"status":   snap.Status,
		"poll_url": fmt.Sprintf("/api/jobs/%s", snap.ID),
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job.Snapshot())
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	found, cancelled := s.orchestrator.CancelJob(jobID)
	if !found {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	if !cancelled {
		jsonError(w, "job already finished", http.StatusConflict)
		return
	}
	snap := s.orchestrator.GetJob(jobID).Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id": snap.ID,
		"status": snap.Status,
	})
}

// resolveRoot maps a requested directory onto dataDir. Relative roots are
// taken from dataDir; roots outside it are rejected.
func resolveRoot(dataDir, root string) (string, error) {
	base, err := filepath.Abs(dataDir)
	if err != nil {
		return "", fmt.Errorf("resolve data dir: %w", err)
	}
	path := root
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("root %q is outside the data directory", root)
	}
	return path, nil
}
