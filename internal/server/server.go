// Package server exposes the pipeline over HTTP with gin. Run endpoints
// stream their events as server-sent events.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
)

// Exporter renders session versions as an XLSX workbook.
type Exporter interface {
	ExportVersionsXLSX(ctx context.Context, sessionID uuid.UUID, numbers ...int) ([]byte, error)
}

// Pinger is satisfied by repository.DB.
type Pinger interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// Server holds the state for the REST API server.
type Server struct {
	svc      *pipeline.Service
	exporter Exporter
	db       Pinger
	router   *gin.Engine
	logger   *slog.Logger
}

type Option func(*Server)

// WithExporter enables GET /v1/sessions/:id/export.
func WithExporter(e Exporter) Option {
	return func(s *Server) { s.exporter = e }
}

// WithPinger makes /health report database reachability.
func WithPinger(p Pinger) Option {
	return func(s *Server) { s.db = p }
}

// NewServer creates a new Server instance.
func NewServer(svc *pipeline.Service, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	s := &Server{
		svc:    svc,
		router: r,
		logger: logger,
	}
	for _, o := range opts {
		o(s)
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/v1")
	v1.POST("/runs", s.handleSubmitRun)
	v1.DELETE("/runs/:id", s.handleCancelRun)
	v1.POST("/sessions/:id/versions", s.handleReExtract)
	v1.GET("/sessions/:id/versions", s.handleListVersions)
	v1.GET("/sessions/:id/compare", s.handleCompare)
	v1.GET("/sessions/:id/export", s.handleExport)
	v1.GET("/cache/stats", s.handleStats)
}

// Health check
func (s *Server) healthCheck(c *gin.Context) {
	if s.db != nil {
		if err := s.db.HealthCheck(c.Request.Context(), 3*time.Second); err != nil {
			s.logger.Error("http.health.db_down", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "active_runs": s.svc.ActiveRuns()})
}

// requestLogger tags each request with an X-Request-ID, generated when the
// client sends none, and logs it on completion.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header("X-Request-ID", rid)
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), rid))
		c.Next()
		logger.Info("http.request",
			"request_id", rid,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
}
