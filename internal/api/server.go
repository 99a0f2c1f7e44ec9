package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tisorlawan/indonesian-media-crawler/internal/crawler"
	"github.com/tisorlawan/indonesian-media-crawler/internal/metrics"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
	readyTimeout     = 2 * time.Second
)

// Server wires HTTP handlers to the frontier.
type Server struct {
	router   chi.Router
	frontier crawler.Frontier
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(frontier crawler.Frontier, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{frontier: frontier, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/frontier", s.frontierStats)
		r.Get("/frontier/{state}", s.frontierList)
		r.Get("/articles", s.getArticle)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on port until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if _, err := s.frontier.Count(ctx, crawler.StateQueued); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "frontier unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type frontierResponse struct {
	Queued   uint `json:"queued"`
	Running  uint `json:"running"`
	Visited  uint `json:"visited"`
	Warned   uint `json:"warned"`
	Articles uint `json:"articles"`
}

func (s *Server) frontierStats(w http.ResponseWriter, r *http.Request) {
	stats, err := crawler.Stats(r.Context(), s.frontier)
	if err != nil {
		s.logger.Error("frontier stats failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read frontier")
		return
	}
	s.writeJSON(w, http.StatusOK, frontierResponse{
		Queued:   stats.Queued,
		Running:  stats.Running,
		Visited:  stats.Visited,
		Warned:   stats.Warned,
		Articles: stats.Articles,
	})
}

func (s *Server) frontierList(w http.ResponseWriter, r *http.Request) {
	state, err := crawler.ParseState(chi.URLParam(r, "state"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
			return
		}
		limit = n
	}
	urls, err := s.frontier.ListN(r.Context(), state, uint(limit))
	if err != nil {
		s.logger.Error("frontier list failed", zap.String("state", string(state)), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read frontier")
		return
	}
	if urls == nil {
		urls = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"state": state, "urls": urls})
}

type articleResponse struct {
	URL           string     `json:"url"`
	CreatedAt     time.Time  `json:"created_at"`
	Title         string     `json:"title,omitempty"`
	Author        string     `json:"author,omitempty"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	Description   string     `json:"description,omitempty"`
	ThumbnailURL  string     `json:"thumbnail_url,omitempty"`
	Keywords      []string   `json:"keywords,omitempty"`
	Paragraphs    []string   `json:"paragraphs"`
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, "url query parameter required")
		return
	}
	url, err := crawler.CanonicalURL(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	article, err := s.frontier.GetArticle(r.Context(), url)
	if errors.Is(err, crawler.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "article not found")
		return
	}
	if err != nil {
		s.logger.Error("get article failed", zap.String("url", url), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read article")
		return
	}
	resp := articleResponse{
		URL:          url,
		CreatedAt:    article.CreatedAt,
		Title:        article.Title,
		Author:       article.Author,
		Description:  article.Description,
		ThumbnailURL: article.ThumbnailURL,
		Keywords:     article.Keywords,
		Paragraphs:   article.Paragraphs,
	}
	if !article.PublishedDate.IsZero() {
		published := article.PublishedDate
		resp.PublishedDate = &published
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
