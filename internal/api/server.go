package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vigilstack/vigil-heal/internal/service"
)

// Server exposes the control and query surface over HTTP/JSON.
type Server struct {
	logger *slog.Logger
	svc    *service.Service
	http   *http.Server
}

// NewServer builds the HTTP server and its route table.
func NewServer(logger *slog.Logger, svc *service.Service, addr string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		logger: logger,
		svc:    svc,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	router.GET("/healthz", s.handleHealthz)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.POST("/health-check", s.handleHealthCheck)
		v1.POST("/recover", s.handleRecover)
		v1.GET("/issues", s.handleIssues)
		v1.GET("/recovery-history", s.handleHistory)
		v1.PUT("/config", s.handleConfig)
	}

	return s
}

// Start blocks serving requests until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}
