// Package admin serves the relay's operator HTTP surface: liveness,
// readiness, a relay status snapshot and Prometheus metrics.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/apdurelay/internal/auth"
	"github.com/danmuck/apdurelay/internal/observability"
	"github.com/danmuck/apdurelay/internal/relay"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// StatusSource supplies the relay snapshot served at /status.
type StatusSource interface {
	Snapshot() relay.Snapshot
}

var defaultTrustedProxies = []string{"127.0.0.1", "::1"}

type Option func(*Server)

// WithTrustedProxies replaces the loopback-only proxy list used to resolve
// client addresses in request logs.
func WithTrustedProxies(proxies []string) Option {
	return func(s *Server) { s.trustedProxies = proxies }
}

// WithValidator requires a bearer token on /status and /metrics.
func WithValidator(v auth.Validator) Option {
	return func(s *Server) { s.validator = v }
}

type Server struct {
	name           string
	addr           string
	source         StatusSource
	validator      auth.Validator
	trustedProxies []string
	router         *gin.Engine
	started        time.Time
	http           *http.Server
}

func New(name, addr string, corsOrigins []string, source StatusSource, opts ...Option) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	s := &Server{
		name:           name,
		addr:           addr,
		source:         source,
		trustedProxies: defaultTrustedProxies,
		router:         r,
		started:        time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := r.SetTrustedProxies(s.trustedProxies); err != nil {
		log.Warn().Err(err).Strs("proxies", s.trustedProxies).Msg("admin trusted proxies rejected")
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"relay":   s.name,
			"version": version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		snap := s.source.Snapshot()
		status := http.StatusOK
		if !snap.SessionOpen {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready": snap.SessionOpen,
			"state": snap.State,
			"relay": s.name,
		})
	})

	guarded := s.router.Group("/")
	if s.validator != nil {
		guarded.Use(auth.Middleware(s.validator))
	}

	guarded.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"relay":  s.name,
			"status": s.source.Snapshot(),
		})
	})

	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Serve listens until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("admin server listening")
		errCh <- s.http.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if v := strings.TrimSpace(o); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
