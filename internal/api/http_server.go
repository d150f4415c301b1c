package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/abelzeko/water-balance/internal/entities"
	"github.com/abelzeko/water-balance/internal/treemap"
	"github.com/abelzeko/water-balance/internal/usecases"
)

// RequestIDHeader carries the per-request ID on responses.
const RequestIDHeader = "X-Request-Id"

// WaterBalanceService is the use-case surface the HTTP and Telegram handlers need
type WaterBalanceService interface {
	GetWaterBalance(ctx context.Context, q entities.WaterBalanceQuery, refresh bool) (*entities.WaterBalanceResponse, bool, error)
	BuildTreemap(ctx context.Context, q entities.WaterBalanceQuery, refresh bool) (*usecases.TreemapResult, error)
	FormatTreemap(tree *entities.WaterBalanceTreeData) string
	KnownGroups() []string
	HandleNaturalLanguageQuery(ctx context.Context, text string) (string, error)
}

// HTTPServer exposes water-balance queries over HTTP
type HTTPServer struct {
	service WaterBalanceService
	logger  *log.Logger
	router  chi.Router
}

// NewHTTPServer creates the server and registers its routes
func NewHTTPServer(service WaterBalanceService, logger *log.Logger) *HTTPServer {
	if logger == nil {
		logger = log.Default()
	}
	s := &HTTPServer{service: service, logger: logger}

	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/groups", s.handleGroups)
		r.Post("/water-balance", s.handleWaterBalance)
		r.Post("/water-balance/treemap", s.handleTreemap)
	})
	s.router = r
	return s
}

// Handler returns the root handler
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("Shutting down HTTP server")
		return server.Shutdown(shutdownCtx)
	}
}

func (s *HTTPServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", w.Header().Get(RequestIDHeader))
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups := s.service.KnownGroups()
	if groups == nil {
		groups = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"groups": groups})
}

func (s *HTTPServer) handleWaterBalance(w http.ResponseWriter, r *http.Request) {
	q, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	resp, cached, err := s.service.GetWaterBalance(r.Context(), q, refreshRequested(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("X-Cache", cacheStatus(cached))
	writeJSON(w, http.StatusOK, resp)
}

// treemapResponse is the body of a treemap request.
type treemapResponse struct {
	Tree       *entities.WaterBalanceTreeData `json:"tree"`
	Nodes      int                            `json:"nodes"`
	Depth      int                            `json:"depth"`
	Total      string                         `json:"totalVolume"`
	Imbalances []imbalanceJSON                `json:"imbalances,omitempty"`
	Cached     bool                           `json:"cached"`
}

type imbalanceJSON struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Value       string `json:"value"`
	ChildrenSum string `json:"childrenSum"`
}

func (s *HTTPServer) handleTreemap(w http.ResponseWriter, r *http.Request) {
	q, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	result, err := s.service.BuildTreemap(r.Context(), q, refreshRequested(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	body := treemapResponse{
		Tree:   result.Tree,
		Nodes:  result.Summary.Nodes,
		Depth:  result.Summary.Depth,
		Total:  result.Summary.TotalVolume.String(),
		Cached: result.Cached,
	}
	for _, im := range result.Summary.Imbalances {
		body.Imbalances = append(body.Imbalances, imbalanceJSON{
			Name:        im.Name,
			Path:        im.Path,
			Value:       im.Value.String(),
			ChildrenSum: im.ChildrenSum.String(),
		})
	}
	w.Header().Set("X-Cache", cacheStatus(result.Cached))
	writeJSON(w, http.StatusOK, body)
}

func (s *HTTPServer) decodeQuery(w http.ResponseWriter, r *http.Request) (entities.WaterBalanceQuery, bool) {
	var q entities.WaterBalanceQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return q, false
	}
	if err := usecases.ValidateQuery(q); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return q, false
	}
	return q, true
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, usecases.ErrInvalidQuery):
		status = http.StatusBadRequest
	case errors.Is(err, treemap.ErrTreeTooDeep):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	s.logger.Warn("Request failed", "status", status, "err", err)
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func refreshRequested(r *http.Request) bool {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	return refresh
}

func cacheStatus(cached bool) string {
	if cached {
		return "hit"
	}
	return "miss"
}
