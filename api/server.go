package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DeafMist/city-pulse/internal/config"
	"github.com/DeafMist/city-pulse/internal/elasticsearch"
	"github.com/DeafMist/city-pulse/internal/enrich"
	"github.com/DeafMist/city-pulse/internal/metrics"
	"github.com/DeafMist/city-pulse/internal/objectstore"
)

type searcher interface {
	Health(ctx context.Context) error
	Search(ctx context.Context, index string, params elasticsearch.SearchParams) (*elasticsearch.SearchResult, error)
	HybridSearch(ctx context.Context, index string, params elasticsearch.HybridParams) ([]elasticsearch.Hit, error)
}

type server struct {
	log   *slog.Logger
	cfg   *config.API
	es    searcher
	gen   enrich.Generator
	store objectstore.Store
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/news", s.handleSearch(s.cfg.NewsIndex))
	r.Get("/posts", s.handleSearch(s.cfg.PostsIndex))
	r.Post("/search/hybrid", s.handleHybrid)
	r.Post("/generate-content", s.handleGenerate)
	r.Route("/objects", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Post("/download", s.handleDownload)
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.es.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleSearch(index string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		q := r.URL.Query()
		params := elasticsearch.SearchParams{
			Query:      strings.TrimSpace(q.Get("q")),
			Sentiment:  strings.TrimSpace(q.Get("sentiment")),
			Topic:      strings.TrimSpace(q.Get("topic")),
			Region:     strings.TrimSpace(q.Get("region")),
			Audience:   strings.TrimSpace(q.Get("audience")),
			Hashtags:   parseCSV(q.Get("hashtags")),
			MinUrgency: clampInt(q.Get("min_urgency"), 0, 100),
			From:       clampInt(q.Get("from"), 0, 10_000),
			Size:       clampInt(q.Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage),
			Sort:       strings.TrimSpace(q.Get("sort")),
			Start:      parseTime(q.Get("start")),
			End:        parseTime(q.Get("end")),
		}

		result, err := s.es.Search(ctx, index, params)
		if err != nil {
			s.log.Error("search failed", slog.String("index", index), slog.Any("err", err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

type hybridRequest struct {
	Index  string    `json:"index"`
	Query  string    `json:"query"`
	Vector []float32 `json:"vector"`
	Fields []string  `json:"fields"`
	Source []string  `json:"source"`
	K      int       `json:"k"`
	Size   int       `json:"size"`
}

func (s *server) handleHybrid(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req hybridRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" && len(req.Vector) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query or vector is required"})
		return
	}
	index := req.Index
	if index == "" {
		index = s.cfg.NewsIndex
	}
	if index != s.cfg.NewsIndex && index != s.cfg.PostsIndex {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown index %q", index)})
		return
	}

	hits, err := s.es.HybridSearch(ctx, index, elasticsearch.HybridParams{
		Query:      req.Query,
		Vector:     req.Vector,
		TextFields: req.Fields,
		Source:     req.Source,
		K:          req.K,
		Size:       min(req.Size, s.cfg.MaxPage),
	})
	if err != nil {
		s.log.Error("hybrid search failed", slog.String("index", index), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.gen == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "content generation is not configured"})
		return
	}

	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "prompt is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	text, err := s.gen.Generate(ctx, req.Prompt)
	if err != nil {
		s.log.Error("generate content", slog.Any("err", err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

type objectRequest struct {
	Path string `json:"path"`
	Key  string `json:"key"`
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.handleObject(w, r, func(ctx context.Context, local, key string) error {
		return s.store.Put(ctx, local, key)
	})
}

func (s *server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.handleObject(w, r, func(ctx context.Context, local, key string) error {
		return s.store.Get(ctx, key, local)
	})
}

func (s *server) handleObject(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, local, key string) error) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "object storage is not configured"})
		return
	}

	var req objectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.Key == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "key is required"})
		return
	}
	local, err := confine(s.cfg.ObjectDir, req.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	if err := op(ctx, local, req.Key); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, objectstore.ErrNotFound) {
			status = http.StatusNotFound
		}
		s.log.Error("object transfer failed", slog.String("key", req.Key), slog.Any("err", err))
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "path": local, "key": req.Key})
}

// confine resolves rel inside dir and rejects paths that escape it.
func confine(dir, rel string) (string, error) {
	if rel == "" {
		return "", errors.New("path is required")
	}
	base, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve object dir: %w", err)
	}
	full := filepath.Join(base, filepath.FromSlash(rel))
	inside, err := filepath.Rel(base, full)
	if err != nil || inside == "." || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the object directory", rel)
	}
	return full, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts
	}
	return nil
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
