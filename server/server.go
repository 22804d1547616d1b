// Package server exposes a Mesh over HTTP: external producers push wire
// observations into the loop, clients run actions and read session history,
// and Prometheus scrapes loop metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/obsmesh"
	"github.com/hupe1980/obsmesh/logging"
)

// Options configures a Server.
type Options struct {
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	// ReadOnly rejects every request that would run an action or inject an
	// observation.
	ReadOnly bool
	// AllowOrigins enables CORS for the listed origins; "*" allows any.
	AllowOrigins []string
	// ShutdownTimeout bounds graceful shutdown in Run.
	ShutdownTimeout time.Duration
	Logger          logging.Logger
}

// Server routes HTTP requests to a Mesh.
type Server struct {
	mesh            *obsmesh.Mesh
	engine          *gin.Engine
	readOnly        bool
	shutdownTimeout time.Duration
	logger          logging.Logger
}

// New builds the router. The caller keeps ownership of mesh.
func New(mesh *obsmesh.Mesh, optFns ...func(o *Options)) *Server {
	opts := Options{
		ShutdownTimeout: 10 * time.Second,
		Logger:          mesh.Logger(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		mesh:            mesh,
		engine:          engine,
		readOnly:        opts.ReadOnly,
		shutdownTimeout: opts.ShutdownTimeout,
		logger:          logging.OrNoOp(opts.Logger),
	}
	engine.Use(gin.Recovery(), s.requestLogger())
	if len(opts.AllowOrigins) > 0 {
		engine.Use(cors.New(corsConfig(opts.AllowOrigins)))
	}
	s.routes(opts.Gatherer)
	return s
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 1 && origins[0] == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type"}
	return cfg
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.engine.GET("/healthz", s.health)

	v1 := s.engine.Group("/v1")
	v1.GET("/kinds", s.listKinds)
	v1.GET("/kinds/:kind/schema", s.kindSchema)
	v1.GET("/sessions", s.listSessions)
	v1.GET("/sessions/:id/observations", s.sessionObservations)

	write := v1.Group("", s.writable())
	write.POST("/observations", s.ingestObservation)
	write.POST("/actions", s.runAction)
	write.POST("/chat", s.postChat)

	if gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is done, then shuts down gracefully. It also
// drains the loop's Outcomes channel until the mesh is closed.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.drain()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("server.listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	s.logger.Info("server.shutdown")
	return srv.Shutdown(shutdownCtx)
}

// drain consumes delivered observations and submitted actions' outcomes so
// producers never block.
func (s *Server) drain() {
	for out := range s.mesh.Loop().Outcomes() {
		if out.Err != nil {
			s.logger.Warn("server.outcome.invalid", "action_id", out.ActionID, "kind", string(out.Kind), "error", out.Err)
			continue
		}
		s.logger.Debug("server.outcome", "action_id", out.ActionID, "kind", string(out.Kind), "failed", out.Observation.Failed())
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("server.request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) writable() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.readOnly {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "server is read-only"})
			return
		}
		c.Next()
	}
}
