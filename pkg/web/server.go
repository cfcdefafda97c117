// Package web serves the voicebox dashboard: a small JSON API over the
// pipeline, a websocket event feed and Prometheus metrics.
package web

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/teslashibe/go-voicebox/pkg/capture"
	"github.com/teslashibe/go-voicebox/pkg/conversation"
	"github.com/teslashibe/go-voicebox/pkg/dispatch"
	"github.com/teslashibe/go-voicebox/pkg/hub"
	"github.com/teslashibe/go-voicebox/pkg/metrics"
	"github.com/teslashibe/go-voicebox/pkg/recorder"
	"github.com/teslashibe/go-voicebox/pkg/session"
)

// DefaultAddr is the dashboard listen address.
const DefaultAddr = ":8080"

// shutdownTimeout bounds graceful shutdown once ctx is cancelled.
const shutdownTimeout = 5 * time.Second

// Trigger lets the dashboard stand in for the wake word and command
// detectors. *afe.Energy implements it.
type Trigger interface {
	TriggerWake() error
	TriggerCommand(id int)
}

// Conversation is the part of the worker the dashboard reads.
// *conversation.Worker implements it.
type Conversation interface {
	Recent() []conversation.Entry
	Tracker() *metrics.Tracker
	Stats() conversation.Stats
}

// Sources supplies live counters. Nil fields are omitted from /api/status.
type Sources struct {
	Session  func() session.Stats
	Recorder func() recorder.Stats
	Capture  func() capture.Stats
}

// Config holds server configuration.
type Config struct {
	Addr         string
	Sources      Sources
	Conversation Conversation
	Trigger      Trigger
	Bus          *dispatch.Bus
	Events       *hub.Hub
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Option configures the server.
type Option func(*Config)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(c *Config) { c.Addr = addr }
}

// WithSources sets the status counters.
func WithSources(s Sources) Option {
	return func(c *Config) { c.Sources = s }
}

// WithConversation exposes the worker's history and latencies.
func WithConversation(conv Conversation) Option {
	return func(c *Config) { c.Conversation = conv }
}

// WithTrigger enables the manual wake and command endpoints.
func WithTrigger(t Trigger) Option {
	return func(c *Config) { c.Trigger = t }
}

// WithBus enables the restart endpoint.
func WithBus(b *dispatch.Bus) Option {
	return func(c *Config) { c.Bus = b }
}

// WithEvents serves h on /ws/events.
func WithEvents(h *hub.Hub) Option {
	return func(c *Config) { c.Events = h }
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Server is the web dashboard server
type Server struct {
	app     *fiber.App
	cfg     Config
	logger  *slog.Logger
	started time.Time
}

// NewServer creates a dashboard server.
func NewServer(opts ...Option) *Server {
	cfg := Config{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "web"),
		started: time.Now(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicebox",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/conversation", s.handleConversation)
	api.Get("/latency", s.handleLatency)
	api.Post("/wake", s.handleWake)
	api.Post("/command/:id", s.handleCommand)
	api.Post("/restart", s.handleRestart)

	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	if cfg.Events != nil {
		app.Use("/ws", hub.RequireUpgrade)
		app.Get("/ws/events", cfg.Events.Handler())
	}

	s.app = app
	return s
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", s.cfg.Addr)
		errCh <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			s.logger.Warn("dashboard shutdown", "error", err)
		}
		return nil
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
