package statusapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/sse"
	"github.com/kbukum/iceflow/supervisor"
)

// Server serves the status routes of one Runtime.
type Server struct {
	cfg     Config
	rt      *supervisor.Runtime
	engine  *gin.Engine
	http    *http.Server
	hub     *sse.Hub
	service string
	version string
	log     *logger.Logger

	mu          sync.Mutex
	addr        net.Addr
	unsubscribe func()
}

// Option configures a Server.
type Option func(*Server)

// WithService names the service in health reports.
func WithService(name, version string) Option {
	return func(s *Server) {
		s.service = name
		s.version = version
	}
}

// WithLogger sets the logger. The default is the "statusapi" component
// logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New returns a Server for rt. Defaults are not applied to cfg; call
// cfg.ApplyDefaults first if needed.
func New(cfg Config, rt *supervisor.Runtime, opts ...Option) *Server {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		rt:      rt,
		engine:  gin.New(),
		hub:     sse.NewHub(),
		service: "iceflow",
		log:     logger.Get("statusapi"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine.Use(recovery(s.log), requestID(), requestLogger(s.log))
	s.routes()

	s.http = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/events", s.events)
	s.engine.GET("/elements/:type", s.elementExists)

	p := s.engine.Group("/pipelines")
	p.GET("", s.listPipelines)
	p.GET("/:id", s.getPipeline)
	p.DELETE("/:id", s.stopPipeline)
	p.GET("/:id/events", s.pipelineEvents)
}

// Handler returns the gin engine.
func (s *Server) Handler() http.Handler { return s.engine }

// Start binds the listener and serves in the background. Runtime events
// are forwarded to SSE clients until Stop.
func (s *Server) Start(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("status server failed to bind %s: %w", s.http.Addr, err)
	}

	go s.hub.Run()
	s.mu.Lock()
	s.addr = ln.Addr()
	s.unsubscribe = s.rt.Subscribe(s.forward)
	s.mu.Unlock()

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("status server error", logger.ErrorFields("serve", err))
		}
	}()

	s.log.Info("status server started", logger.Fields("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr != nil {
		return s.addr.String()
	}
	return s.http.Addr
}

// Stop ends the event streams and shuts the server down within five
// seconds.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.mu.Unlock()
	s.hub.Stop()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.log.Error("status server shutdown error", logger.ErrorFields("shutdown", err))
		return fmt.Errorf("status server shutdown: %w", err)
	}
	s.log.Info("status server stopped")
	return nil
}
