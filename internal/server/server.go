package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"github.com/victorx64/biohack-debunker/internal/extract"
	"github.com/victorx64/biohack-debunker/internal/llm"
	"github.com/victorx64/biohack-debunker/internal/metrics"
	"github.com/victorx64/biohack-debunker/internal/model"
	"github.com/victorx64/biohack-debunker/internal/pipeline"
)

const defaultMaxBodyBytes = 8 << 20

// Analyzer runs one analysis; implemented by pipeline.Pipeline
type Analyzer interface {
	Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResponse, error)
}

// Health is the static part of the health report
type Health struct {
	LLMRoutes   int    `json:"llm_routes"`
	ResearchURL string `json:"research_url"`
	RateLimiter string `json:"rate_limiter"`
}

// Options configures a Server
type Options struct {
	ServiceName  string
	Health       Health
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Server exposes the pipeline over HTTP
type Server struct {
	router   *gin.Engine
	analyzer Analyzer
	health   Health
	maxBody  int64
	logger   *slog.Logger
}

// New creates a new server with its routes registered
func New(analyzer Analyzer, opts Options) *Server {
	if opts.ServiceName == "" {
		opts.ServiceName = "biohack-debunker"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:   gin.New(),
		analyzer: analyzer,
		health:   opts.Health,
		maxBody:  opts.MaxBodyBytes,
		logger:   logger.With("component", "server"),
	}

	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(opts.ServiceName))
	s.router.Use(s.observe())

	s.router.POST("/analyze", s.handleAnalyze)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

// observe records request metrics and a log line per request
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"took_ms", time.Since(start).Milliseconds(),
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			attrs = append(attrs, "trace_id", sc.TraceID().String())
		}
		s.logger.Info("request", attrs...)
	}
}

func (s *Server) handleAnalyze(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBody)

	var req model.AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	resp, err := s.analyzer.Analyze(c.Request.Context(), req)
	if err != nil {
		c.JSON(StatusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"llm_routes":   s.health.LLMRoutes,
		"research_url": s.health.ResearchURL,
		"rate_limiter": s.health.RateLimiter,
	})
}

// StatusFor maps a pipeline error onto an HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest),
		errors.Is(err, pipeline.ErrNoClaims),
		errors.Is(err, extract.ErrNoSegments):
		return http.StatusBadRequest
	case errors.Is(err, llm.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
