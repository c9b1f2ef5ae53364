package httpadapter

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ndmitriev/recollect/internal/core/domain"
	"github.com/ndmitriev/recollect/internal/core/ports"
	"github.com/ndmitriev/recollect/internal/observability/metrics"
)

const ownerIDHeader = "X-Owner-Id"

const relatedDefaultLimit = 10

type Router struct {
	searchUC  ports.MemorySearcher
	ingestUC  ports.MemoryIngestor
	relatedUC ports.RelatedMemoryFinder
	repo      ports.MemoryRepository
	storage   ports.ObjectStorage
	policy    domain.FusionPolicy
	options   Options
}

type Options struct {
	ServiceName string
	Metrics     *metrics.HTTPServerMetrics

	RateLimitRPS   int
	RateLimitBurst int
	MaxConcurrent  int
}

func NewRouter(
	searchUC ports.MemorySearcher,
	ingestUC ports.MemoryIngestor,
	relatedUC ports.RelatedMemoryFinder,
	repo ports.MemoryRepository,
	storage ports.ObjectStorage,
	policy domain.FusionPolicy,
	options Options,
) *Router {
	if options.ServiceName == "" {
		options.ServiceName = "api"
	}
	return &Router{
		searchUC:  searchUC,
		ingestUC:  ingestUC,
		relatedUC: relatedUC,
		repo:      repo,
		storage:   storage,
		policy:    policy.Normalize(),
		options:   options,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/memories", rt.captureText)
	mux.HandleFunc("/v1/memories/upload", rt.captureUpload)
	mux.HandleFunc("/v1/memories/", rt.memoryByID)
	mux.HandleFunc("/v1/search", rt.search)
	mux.HandleFunc("/v1/images/", rt.serveImage)
	if rt.options.Metrics != nil {
		mux.Handle("/metrics", rt.options.Metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.options.MaxConcurrent > 0 {
		handler = backpressureMiddleware(handler, rt.options.MaxConcurrent, 50*time.Millisecond)
	}
	if rt.options.RateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.options.RateLimitRPS, rt.options.RateLimitBurst)
	}
	if rt.options.Metrics != nil {
		handler = rt.options.Metrics.Middleware(rt.options.ServiceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) captureText(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Text string   `json:"text"`
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	mem, err := rt.ingestUC.CaptureText(r.Context(), ownerID(r), req.Text, req.Tags)
	if err != nil {
		writeError(w, err)
		return
	}

	rt.recordCapture(mem.Kind)
	writeJSON(w, http.StatusAccepted, mem)
}

func (rt *Router) captureUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	mem, err := rt.ingestUC.CaptureUpload(
		r.Context(),
		ownerID(r),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeError(w, err)
		return
	}

	rt.recordCapture(mem.Kind)
	writeJSON(w, http.StatusAccepted, mem)
}

// memoryByID serves GET /v1/memories/{id}, DELETE /v1/memories/{id} and
// GET /v1/memories/{id}/related.
func (rt *Router) memoryByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/memories/")
	if rest == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "memory id is required"})
		return
	}

	if id, ok := strings.CutSuffix(rest, "/related"); ok {
		rt.relatedMemories(w, r, id)
		return
	}
	if strings.Contains(rest, "/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		rt.getMemory(w, r, rest)
	case http.MethodDelete:
		rt.deleteMemory(w, r, rest)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (rt *Router) getMemory(w http.ResponseWriter, r *http.Request, id string) {
	owner := ownerID(r)
	if owner == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing owner id"})
		return
	}

	mem, err := rt.repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	// A foreign or deleted memory reads the same as a missing one.
	if mem.OwnerID != owner || mem.DeletedAt != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "memory not found"})
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

func (rt *Router) deleteMemory(w http.ResponseWriter, r *http.Request, id string) {
	if err := rt.ingestUC.Delete(r.Context(), ownerID(r), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) relatedMemories(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	limit := relatedDefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	related, err := rt.relatedUC.Related(r.Context(), ownerID(r), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"memory_id": id,
		"count":     len(related),
		"related":   related,
	})
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query parameter 'q' is required"})
		return
	}

	limit := rt.policy.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	kinds, ok := parseKinds(r.URL.Query().Get("kinds"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kinds must be a comma-separated list of text, voice, image"})
		return
	}

	start := time.Now()
	results, err := rt.searchUC.Search(r.Context(), domain.SearchRequest{
		Query:   query,
		OwnerID: ownerID(r),
		Limit:   limit,
		Kinds:   kinds,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	for i := range results {
		if results[i].ImagePath != "" {
			results[i].ImageURL = "/v1/images/" + results[i].ImagePath
		}
	}

	if rt.options.Metrics != nil {
		rt.options.Metrics.RecordSearchObservation(rt.options.ServiceName, len(results), time.Since(start))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

func (rt *Router) serveImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	file := strings.TrimPrefix(r.URL.Path, "/v1/images/")
	if file == "" || strings.Contains(file, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "image file name is required"})
		return
	}

	blob, err := rt.storage.Open(r.Context(), file)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "image not found"})
		return
	}
	defer blob.Close()

	contentType := mime.TypeByExtension(filepath.Ext(file))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = io.Copy(w, blob)
}

func (rt *Router) recordCapture(kind domain.MemoryKind) {
	if rt.options.Metrics != nil {
		rt.options.Metrics.RecordCapture(rt.options.ServiceName, kind)
	}
}

func parseKinds(raw string) ([]domain.MemoryKind, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}

	parts := strings.Split(raw, ",")
	kinds := make([]domain.MemoryKind, 0, len(parts))
	for _, part := range parts {
		kind, ok := domain.ParseMemoryKind(strings.TrimSpace(part))
		if !ok {
			return nil, false
		}
		kinds = append(kinds, kind)
	}
	return kinds, true
}

func ownerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ownerIDHeader))
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
