// Package api exposes the HTTP surface: tool dispatch and the ops
// health-check endpoint, served with gin.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/worunner/worunner/pkg/ops"
	"github.com/worunner/worunner/pkg/tools"
)

// Server is the HTTP API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	db         *sql.DB
	dispatcher *tools.Dispatcher
	opsLoop    *ops.Loop
}

// NewServer creates a new API server. db backs the GET /health liveness
// probe; dispatcher and opsLoop may be nil during construction and wired
// afterward via SetDispatcher/SetOpsLoop, mirroring the teacher's
// nil-until-set service fields.
func NewServer(db *sql.DB) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(securityHeaders())

	s := &Server{engine: engine, db: db}
	s.routes()
	return s
}

// SetDispatcher wires the tool dispatcher used by POST /tools/dispatch.
func (s *Server) SetDispatcher(d *tools.Dispatcher) {
	s.dispatcher = d
}

// SetOpsLoop wires the Ops Control Loop used by POST /health-check.
func (s *Server) SetOpsLoop(l *ops.Loop) {
	s.opsLoop = l
}

func (s *Server) routes() {
	s.engine.GET("/health", s.livenessHandler)
	s.engine.POST("/tools/dispatch", s.dispatchHandler)
	s.engine.POST("/health-check", s.healthCheckHandler)
}

// Run starts the HTTP server and blocks until the context is canceled, then
// shuts down gracefully within 10 seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api: listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
