// Package api serves the read-mostly control surface of the engine.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"signal-core/internal/decision"
	"signal-core/internal/engine"
	"signal-core/internal/events"
	"signal-core/internal/journal"
	"signal-core/internal/market"
	"signal-core/internal/monitor"
	"signal-core/internal/order"
	"signal-core/internal/risk"
)

// Controller is the part of the engine the API reads and drives.
type Controller interface {
	LastCycle() *engine.CycleReport
	Cycles() int64
	CloseManual(ctx context.Context, symbol, reason string) ([]order.CloseResult, error)
	Gate() *risk.Gate
	Memory() *decision.Memory
}

type FeedView interface {
	Snapshot() market.FeedSnapshot
}

type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Record, error)
	Stats(ctx context.Context) (journal.Stats, error)
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	DryRun       bool      `json:"dry_run"`
	Venue        string    `json:"venue"`
	Symbol       string    `json:"symbol"`
	BaseInterval string    `json:"base_interval"`
	Version      string    `json:"version"`
	StartedAt    time.Time `json:"started_at"`
}

// Options wires a Server. Journal, Bus and Metrics may be nil.
type Options struct {
	Engine    Controller
	Feed      FeedView
	Journal   JournalReader
	Bus       *events.Bus
	Metrics   *monitor.Metrics
	JWTSecret string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	Meta      SystemMeta
	Log       zerolog.Logger
}

// Server wires HTTP endpoints around the engine and the event bus.
type Server struct {
	Router    *gin.Engine
	Engine    Controller
	Feed      FeedView
	Journal   JournalReader
	Bus       *events.Bus
	Metrics   *monitor.Metrics
	JWTSecret string
	Meta      SystemMeta

	log zerolog.Logger
}

func NewServer(opts Options) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 50
	}
	if opts.Meta.StartedAt.IsZero() {
		opts.Meta.StartedAt = time.Now()
	}
	log := opts.Log.With().Str("component", "api").Logger()

	r := gin.New()

	// order matters: recovery first, ids before logging
	r.Use(RecoveryMiddleware(log))
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log, opts.Metrics))
	r.Use(NewRateLimiter(opts.RateLimit, opts.Burst).Middleware(log))
	r.Use(TimeoutMiddleware(opts.Timeout))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Engine:    opts.Engine,
		Feed:      opts.Feed,
		Journal:   opts.Journal,
		Bus:       opts.Bus,
		Metrics:   opts.Metrics,
		JWTSecret: opts.JWTSecret,
		Meta:      opts.Meta,
		log:       log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/snapshot", s.getSnapshot)
		api.GET("/journal", s.getJournal)
		api.GET("/performance", s.getPerformance)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/positions/close", s.closePositions)
			protected.POST("/risk/reset-losses", s.resetLosses)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.Feed != nil {
		resp["stream"] = s.Feed.Snapshot().State
	}
	c.JSON(http.StatusOK, resp)
}

// Serve runs the server until ctx is cancelled, then drains in-flight
// requests for up to five seconds.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("control api listening")
		errCh <- srv.ListenAndServe()
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
		return srv.Shutdown(shutdownCtx)
	}
}
