// Package server provides the HTTP API for docintel.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"docintel/internal/adapter/fs"
	"docintel/internal/domain"
	"docintel/internal/usecase"
)

// Server exposes the ingestion, retrieval, and QA pipeline over HTTP.
type Server struct {
	echo        *echo.Echo
	coordinator *usecase.Coordinator
	retriever   *usecase.Retriever
	asker       *usecase.Asker
	logger      *zap.Logger
	config      *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host      string
	Port      int
	UploadDir string
}

// NewServer creates a new HTTP server. The asker may be nil when no
// generation model is configured; the QA endpoint then reports 503.
func NewServer(coordinator *usecase.Coordinator, retriever *usecase.Retriever, asker *usecase.Asker, logger *zap.Logger, cfg *Config) (*Server, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	if retriever == nil {
		return nil, fmt.Errorf("retriever cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host:      "localhost",
			Port:      8080,
			UploadDir: "data/uploads",
		}
	}
	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:        e,
		coordinator: coordinator,
		retriever:   retriever,
		asker:       asker,
		logger:      logger,
		config:      cfg,
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/documents", s.handleSubmit)
	v1.GET("/documents", s.handleList)
	v1.GET("/documents/:id", s.handleStatus)
	v1.POST("/documents/:id/reingest", s.handleReingest)
	v1.DELETE("/documents/:id", s.handleDelete)
	v1.POST("/search", s.handleSearch)
	v1.POST("/qa", s.handleAsk)
	v1.GET("/stats", s.handleStats)
}

// SubmitRequest is the JSON request body for POST /api/v1/documents.
// Multipart uploads with a "file" field are accepted on the same route.
type SubmitRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// SearchRequest is the request body for POST /api/v1/search.
type SearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

// SearchResponse is the response body for POST /api/v1/search.
type SearchResponse struct {
	Query   string                   `json:"query"`
	Results []domain.RetrievalResult `json:"results"`
}

// AskRequest is the request body for POST /api/v1/qa.
type AskRequest struct {
	Question string `json:"question"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleSubmit(c echo.Context) error {
	name, content, err := s.readSubmission(c)
	if err != nil {
		return err
	}

	path := filepath.Join(s.config.UploadDir, uuid.NewString()+"-"+filepath.Base(name))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store upload")
	}
	hash, err := fs.HashFile(path)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to hash upload")
	}

	doc, err := s.coordinator.Submit(name, path, hash, content)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusAccepted, doc)
}

// readSubmission accepts either a multipart "file" field or a JSON body.
func (s *Server) readSubmission(c echo.Context) (name, content string, err error) {
	if fh, fileErr := c.FormFile("file"); fileErr == nil {
		f, openErr := fh.Open()
		if openErr != nil {
			return "", "", echo.NewHTTPError(http.StatusBadRequest, "failed to open uploaded file")
		}
		defer f.Close()
		data, readErr := io.ReadAll(f)
		if readErr != nil {
			return "", "", echo.NewHTTPError(http.StatusBadRequest, "failed to read uploaded file")
		}
		return fh.Filename, string(data), nil
	}

	var req SubmitRequest
	if bindErr := c.Bind(&req); bindErr != nil {
		return "", "", echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" || req.Content == "" {
		return "", "", echo.NewHTTPError(http.StatusBadRequest, "name and content fields are required")
	}
	return req.Name, req.Content, nil
}

func (s *Server) handleList(c echo.Context) error {
	docs, err := s.coordinator.List()
	if err != nil {
		return s.mapError(err)
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	return c.JSON(http.StatusOK, docs)
}

func (s *Server) handleStatus(c echo.Context) error {
	doc, err := s.coordinator.Status(c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleReingest(c echo.Context) error {
	doc, err := s.coordinator.Reingest(c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusAccepted, doc)
}

func (s *Server) handleDelete(c echo.Context) error {
	if err := s.coordinator.Delete(c.Param("id")); err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.K == 0 {
		req.K = 5
	}

	results, err := s.retriever.Retrieve(c.Request().Context(), req.Query, req.K)
	if err != nil {
		return s.mapError(err)
	}
	if results == nil {
		results = []domain.RetrievalResult{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Query: req.Query, Results: results})
}

func (s *Server) handleAsk(c echo.Context) error {
	if s.asker == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "question answering is not configured")
	}

	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	answer, err := s.asker.Ask(c.Request().Context(), req.Question)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, answer)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.coordinator.Stats()
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// mapError translates pipeline errors into HTTP statuses.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, domain.ErrIndexUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("internal error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
