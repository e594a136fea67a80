package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/elonfeng/pulsebot/internal/admission"
	"github.com/elonfeng/pulsebot/pkg/price"
)

// Scheduler is the part of the scheduler the API exposes.
type Scheduler interface {
	Ready() bool
	FeedInterval() time.Duration
	PriceInterval() time.Duration
	SetFeedInterval(ctx context.Context, d time.Duration) error
}

// Quoter looks up market data for one asset.
type Quoter interface {
	Quote(ctx context.Context, id string) (price.Quote, error)
}

// Server provides the HTTP API.
type Server struct {
	admission *admission.Service
	sched     Scheduler
	quotes    Quoter
	log       zerolog.Logger
	addr      string
	engine    *gin.Engine
}

// New creates a new HTTP server.
func New(svc *admission.Service, sched Scheduler, quotes Quoter, log zerolog.Logger, addr string) *Server {
	if addr == "" {
		addr = ":8080"
	}
	s := &Server{
		admission: svc,
		sched:     sched,
		quotes:    quotes,
		log:       log.With().Str("component", "server").Logger(),
		addr:      addr,
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	v1 := r.Group("/api/v1")
	v1.GET("/health", s.handleHealth)
	v1.GET("/ready", s.handleReady)
	v1.GET("/metrics", gin.WrapH(promhttp.Handler()))

	t := v1.Group("/tenants/:tenant")
	t.GET("", s.handleTenant)
	t.GET("/managers", s.handleManagers)

	m := t.Group("", s.requireManager())
	m.PUT("/destination", s.handleSetDestination)
	m.PUT("/limit", s.handleSetLimit)
	m.PUT("/poll-interval", s.handleSetPollInterval)
	m.PUT("/destinations/:dest", s.handleSetDestinationSettings)
	m.POST("/managers/:ref", s.handleAddManager)
	m.DELETE("/managers/:ref", s.handleRemoveManager)
	m.POST("/feeds", s.handleAddFeed)
	m.DELETE("/feeds/:ref", s.handleRemoveFeed)
	m.GET("/feeds/:ref/keywords", s.handleKeywords)
	m.POST("/feeds/:ref/keywords", s.handleAddKeyword)
	m.DELETE("/feeds/:ref/keywords/:keyword", s.handleRemoveKeyword)

	v1.GET("/alerts", s.handleListAlerts)
	v1.POST("/alerts", s.handleAddAlert)
	v1.DELETE("/alerts/:ref", s.handleRemoveAlert)

	v1.GET("/intervals", s.handleIntervals)
	v1.PUT("/intervals/feed", s.requireAdmin(), s.handleSetFeedInterval)

	v1.GET("/price/:asset", s.handlePrice)
	return r
}

// ListenAndServe starts the HTTP server and shuts it down when ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("pulsebot api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

// Callers identify themselves with X-Actor (identity), X-Actor-Roles
// (comma separated) and X-Actor-Admin. Requests without X-Actor come from
// the operator and are allowed.
const (
	headerActor = "X-Actor"
	headerRoles = "X-Actor-Roles"
	headerAdmin = "X-Actor-Admin"
)

func (s *Server) requireManager() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetHeader(headerActor)
		if actor == "" {
			c.Next()
			return
		}
		refs := append([]string{actor}, splitList(c.GetHeader(headerRoles))...)
		if !s.admission.CanManage(c.Param("tenant"), c.GetHeader(headerAdmin) == "true", refs...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "you do not have permission to manage feeds"})
			return
		}
		c.Next()
	}
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(headerActor) != "" && c.GetHeader(headerAdmin) != "true" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "administrator only"})
			return
		}
		c.Next()
	}
}
