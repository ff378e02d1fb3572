// Package server is the HTTP boundary. Handlers stay thin: decode, rate
// limit, call a coordinator, encode. All error text leaving this package
// is sanitized.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scribe-rag/scribe/internal/ask"
	"github.com/scribe-rag/scribe/internal/config"
	"github.com/scribe-rag/scribe/internal/errors"
	"github.com/scribe-rag/scribe/internal/ingest"
	"github.com/scribe-rag/scribe/internal/model"
	"github.com/scribe-rag/scribe/internal/search"
	"github.com/scribe-rag/scribe/internal/store"
	"github.com/scribe-rag/scribe/internal/telemetry"
	"github.com/scribe-rag/scribe/internal/validation"
)

const shutdownGrace = 10 * time.Second

// Server exposes the pipelines over HTTP.
type Server struct {
	coordinator *ingest.Coordinator
	engine      *search.Engine
	askSvc      *ask.Service
	meta        *store.Store
	recorder    *telemetry.Recorder
	limiter     *validation.RateLimiter
	cfg         config.ServerConfig
	logger      *slog.Logger
}

// New wires the HTTP boundary.
func New(
	coordinator *ingest.Coordinator,
	engine *search.Engine,
	askSvc *ask.Service,
	meta *store.Store,
	recorder *telemetry.Recorder,
	cfg config.ServerConfig,
	logger *slog.Logger,
) *Server {
	return &Server{
		coordinator: coordinator,
		engine:      engine,
		askSvc:      askSvc,
		meta:        meta,
		recorder:    recorder,
		limiter:     validation.NewRateLimiter(cfg.RatePerMinute, time.Minute),
		cfg:         cfg,
		logger:      logger.With("component", "server"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/documents", s.limited(s.handleIndexDocument))
	mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	mux.HandleFunc("GET /api/documents/{id}", s.handleGetDocument)
	mux.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("PUT /api/documents/{id}/collection", s.handleAssignCollection)

	mux.HandleFunc("GET /api/search", s.limited(s.handleSearch))
	mux.HandleFunc("POST /api/ask", s.limited(s.handleAsk))
	mux.HandleFunc("GET /api/chunks/{id}/similar", s.handleSimilar)

	mux.HandleFunc("POST /api/collections", s.handleCreateCollection)
	mux.HandleFunc("GET /api/collections", s.handleListCollections)
	mux.HandleFunc("GET /api/collections/{id}", s.handleGetCollection)
	mux.HandleFunc("DELETE /api/collections/{id}", s.handleDeleteCollection)

	return mux
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

// limited applies the per-client sliding-window rate limit.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.IsAllowed(clientKey(r)) {
			s.writeError(w, errors.Conflict("rate limit exceeded, retry later"), http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type indexRequest struct {
	Path         string         `json:"path,omitempty"`
	Content      string         `json:"content,omitempty"`
	Title        string         `json:"title,omitempty"`
	ForceReindex bool           `json:"forceReindex,omitempty"`
	CollectionID string         `json:"collectionId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFail(w, errors.Validation("invalid JSON body"))
		return
	}
	if (req.Path == "") == (req.Content == "") {
		s.writeFail(w, errors.Validation("exactly one of path or content is required"))
		return
	}

	opts := ingest.IndexOptions{
		ForceReindex: req.ForceReindex,
		CollectionID: req.CollectionID,
		Metadata:     req.Metadata,
	}

	var (
		result *model.IngestionResult
		err    error
	)
	if req.Path != "" {
		result, err = s.coordinator.IndexDocument(r.Context(), req.Path, opts)
	} else {
		result, err = s.coordinator.IndexText(r.Context(), req.Content, req.Title, opts)
	}
	if err != nil {
		s.writeFail(w, err)
		return
	}

	status := http.StatusCreated
	if result.Skipped {
		status = http.StatusOK
	}
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	var (
		docs []*model.Document
		err  error
	)
	if collectionID := r.URL.Query().Get("collectionId"); collectionID != "" {
		docs, err = s.meta.GetDocumentsByCollection(r.Context(), collectionID)
	} else {
		docs, err = s.meta.GetAllDocuments(r.Context())
	}
	if err != nil {
		s.writeFail(w, err)
		return
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validation.ValidateUUID(id); err != nil {
		s.writeFail(w, err)
		return
	}
	doc, err := s.meta.GetDocumentByID(r.Context(), id)
	if err != nil {
		s.writeFail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.DeleteDocument(r.Context(), r.PathValue("id")); err != nil {
		s.writeFail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAssignCollection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validation.ValidateUUID(id); err != nil {
		s.writeFail(w, err)
		return
	}
	var req struct {
		CollectionID string `json:"collectionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFail(w, errors.Validation("invalid JSON body"))
		return
	}
	if err := s.meta.AssignDocumentToCollection(r.Context(), id, req.CollectionID); err != nil {
		s.writeFail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := search.Request{
		Query:       q.Get("q"),
		Limit:       queryInt(q.Get("limit")),
		Threshold:   queryFloat(q.Get("threshold")),
		DocumentIDs: queryList(q.Get("documentIds")),
		FileTypes:   queryList(q.Get("fileTypes")),
	}
	if v := q.Get("rerank"); v != "" {
		rerank := v == "true" || v == "1"
		req.Rerank = &rerank
	}

	start := time.Now()
	resp, err := s.engine.Search(r.Context(), req)
	if err != nil {
		s.writeFail(w, err)
		return
	}
	s.recorder.RecordSearch(r.Context(), req.Query, "api", resp.Results, time.Since(start),
		map[string]any{"rerankUsed": resp.RerankUsed, "hydeUsed": resp.HydeUsed})

	if resp.Results == nil {
		resp.Results = []model.SearchResult{}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type askRequest struct {
	Question    string   `json:"question"`
	Limit       int      `json:"limit,omitempty"`
	Threshold   float64  `json:"threshold,omitempty"`
	Model       string   `json:"model,omitempty"`
	Rerank      *bool    `json:"rerank,omitempty"`
	Verify      bool     `json:"verify,omitempty"`
	DocumentIDs []string `json:"documentIds,omitempty"`
	FileTypes   []string `json:"fileTypes,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFail(w, errors.Validation("invalid JSON body"))
		return
	}

	start := time.Now()
	answer, err := s.askSvc.Ask(r.Context(), ask.Request{
		Question:    req.Question,
		Limit:       req.Limit,
		Threshold:   req.Threshold,
		Model:       req.Model,
		Rerank:      req.Rerank,
		Verify:      req.Verify,
		DocumentIDs: req.DocumentIDs,
		FileTypes:   req.FileTypes,
	})
	if err != nil {
		s.writeFail(w, err)
		return
	}
	s.recorder.RecordAsk(r.Context(), req.Question, "api", answer, time.Since(start))
	s.writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	results, err := s.engine.FindSimilar(r.Context(), r.PathValue("id"), queryInt(r.URL.Query().Get("limit")))
	if err != nil {
		s.writeFail(w, err)
		return
	}
	if results == nil {
		results = []model.SearchResult{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Color       string `json:"color,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFail(w, errors.Validation("invalid JSON body"))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeFail(w, errors.Validation("collection name is required"))
		return
	}

	col := &model.Collection{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Color:       req.Color,
	}
	if err := s.meta.CreateCollection(r.Context(), col); err != nil {
		s.writeFail(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, col)
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	cols, err := s.meta.ListCollections(r.Context())
	if err != nil {
		s.writeFail(w, err)
		return
	}
	if cols == nil {
		cols = []*model.Collection{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"collections": cols})
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	col, err := s.meta.GetCollection(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, col)
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := s.meta.DeleteCollection(r.Context(), r.PathValue("id")); err != nil {
		s.writeFail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// clientKey identifies the caller for rate limiting: X-Forwarded-For when
// present, else the remote IP.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func queryFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func queryList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
