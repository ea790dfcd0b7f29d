package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docchunk/internal/classify"
	"github.com/dgallion1/docchunk/internal/parser"
	"github.com/dgallion1/docchunk/internal/pipeline"
)

// ingestRequest is the JSON form of POST /api/ingest.
type ingestRequest struct {
	Name     string         `json:"name"`
	Content  string         `json:"content"`
	Format   string         `json:"format"`
	Metadata map[string]any `json:"metadata"`
}

type ingestResponse struct {
	*pipeline.Result
	Stored *int `json:"stored,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	store := r.URL.Query().Get("store") == "true"
	if store && !s.orchestrator.StoreEnabled() {
		jsonError(w, pipeline.ErrStoreDisabled.Error(), http.StatusServiceUnavailable)
		return
	}

	var (
		in   pipeline.RawInput
		meta map[string]any
		ok   bool
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		in, meta, ok = s.readUpload(w, r)
	} else {
		in, meta, ok = s.readInline(w, r)
	}
	if !ok {
		return
	}

	pipe := s.orchestrator.Pipeline()
	res, err := pipe.Ingest(r.Context(), in, meta)
	if err != nil {
		var ioErr *pipeline.IOError
		switch {
		case errors.As(err, &ioErr):
			jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, classify.ErrUnsupportedFormat):
			jsonError(w, err.Error(), http.StatusBadRequest)
		default:
			s.log.Error("ingest failed", "source", in.Source(), "error", err)
			jsonError(w, "ingest failed: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	resp := ingestResponse{Result: res}
	if store {
		n, err := s.orchestrator.Store(r.Context(), res.Records)
		if err != nil {
			s.log.Error("store failed", "source", res.Source, "error", err)
			jsonError(w, "store failed: "+err.Error(), http.StatusBadGateway)
			return
		}
		resp.Stored = &n
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// readUpload reads a multipart upload with a "file" part and optional
// "format" and "metadata" (JSON object) fields.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (pipeline.RawInput, map[string]any, bool) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return pipeline.RawInput{}, nil, false
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return pipeline.RawInput{}, nil, false
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	format := r.FormValue("format")
	if format == "" && !parser.IsSupportedExtension(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return pipeline.RawInput{}, nil, false
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return pipeline.RawInput{}, nil, false
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return pipeline.RawInput{}, nil, false
	}

	var meta map[string]any
	if v := r.FormValue("metadata"); v != "" {
		if err := json.Unmarshal([]byte(v), &meta); err != nil {
			jsonError(w, "metadata must be a JSON object: "+err.Error(), http.StatusBadRequest)
			return pipeline.RawInput{}, nil, false
		}
	}
	return pipeline.FromBytes(filename, data).WithFormat(format), meta, true
}

func (s *Server) readInline(w http.ResponseWriter, r *http.Request) (pipeline.RawInput, map[string]any, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, fmt.Sprintf("content exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		} else {
			jsonError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		}
		return pipeline.RawInput{}, nil, false
	}
	name := req.Name
	if name != "" {
		name = sanitizeFilename(name)
	}
	return pipeline.FromContent(name, req.Content).WithFormat(req.Format), req.Metadata, true
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.orchestrator.Pipeline().Classify(req.Content))
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
