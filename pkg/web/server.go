// Package web serves the local status dashboard for a tutor session: JSON
// endpoints, a websocket event feed and Prometheus metrics.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-tutor/pkg/hub"
	"github.com/teslashibe/go-tutor/pkg/metrics"
	"github.com/teslashibe/go-tutor/pkg/session"
)

// Config holds dashboard settings.
type Config struct {
	// Enabled starts the dashboard alongside the session.
	// Default: true
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Addr is the listen address.
	// Default: "127.0.0.1:8090"
	Addr string `yaml:"addr" json:"addr"`

	// LevelInterval is the minimum spacing of level events on the feed.
	// Default: 100ms
	LevelInterval time.Duration `yaml:"level_interval" json:"level_interval"`

	// ConversationLimit caps the entries kept for /api/conversation.
	// Default: 200
	ConversationLimit int `yaml:"conversation_limit" json:"conversation_limit"`
}

// DefaultConfig returns the default dashboard configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		Addr:              "127.0.0.1:8090",
		LevelInterval:     100 * time.Millisecond,
		ConversationLimit: 200,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if c.LevelInterval < 0 {
		return errors.New("level_interval must not be negative")
	}
	if c.ConversationLimit <= 0 {
		return errors.New("conversation_limit must be positive")
	}
	return nil
}

// Controls are the session actions the dashboard can trigger.
type Controls interface {
	Reset() error
	SendText(text string) error
}

// State is the session as the dashboard sees it.
type State struct {
	Phase          session.Phase `json:"phase"`
	Connected      bool          `json:"connected"`
	Level          float64       `json:"level"`
	LastTranscript string        `json:"last_transcript,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
	ErrorKind      session.Kind  `json:"error_kind,omitempty"`
	Turns          int           `json:"turns"`
}

// Server is the web dashboard server. It implements session.Observer.
type Server struct {
	cfg     Config
	app     *fiber.App
	logger  *slog.Logger
	clock   clock.Clock
	metrics *metrics.Metrics

	state   State
	stateMu sync.RWMutex

	conversation   []session.Entry
	conversationMu sync.RWMutex

	// lastLevel is only touched from observer callbacks, which the
	// session serializes.
	lastLevel time.Time

	statusHub *hub.Hub

	controls Controls
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the clock used to throttle level events.
func WithClock(clk clock.Clock) Option {
	return func(s *Server) { s.clock = clk }
}

// WithMetrics exposes m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new web dashboard server
func NewServer(cfg Config, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:          cfg,
		logger:       logger,
		clock:        clock.New(),
		conversation: make([]session.Entry, 0, cfg.ConversationLimit),
		statusHub:    hub.New("status", logger),
	}
	for _, opt := range opts {
		opt(s)
	}

	app := fiber.New(fiber.Config{
		AppName:               "Tutor Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/conversation", s.handleGetConversation)
	api.Post("/reset", s.handleReset)
	api.Post("/say", s.handleSay)

	if s.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// SetControls attaches the session the dashboard drives.
func (s *Server) SetControls(c Controls) {
	s.controls = c
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.statusHub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "url", "http://"+s.cfg.Addr)
		errCh <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("dashboard: %w", err)
	case <-ctx.Done():
	}

	if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
		s.logger.Warn("dashboard shutdown", "error", err)
	}
	return nil
}

// State returns a copy of the current state.
func (s *Server) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// UpdateState applies update and broadcasts the new state.
func (s *Server) UpdateState(update func(*State)) {
	s.stateMu.Lock()
	update(&s.state)
	state := s.state
	s.stateMu.Unlock()

	s.publish("state", state)
}

func (s *Server) publish(eventType string, data any) {
	if err := s.statusHub.Publish(eventType, data); err != nil {
		s.logger.Warn("publish dashboard event", "type", eventType, "error", err)
	}
}

// OnPhase implements session.Observer.
func (s *Server) OnPhase(from, to session.Phase) {
	s.UpdateState(func(st *State) { st.Phase = to })
}

// OnLevel implements session.Observer. Events are throttled to
// LevelInterval; a zero level is always sent so the meter settles.
func (s *Server) OnLevel(level float64) {
	s.stateMu.Lock()
	s.state.Level = level
	s.stateMu.Unlock()

	now := s.clock.Now()
	if level != 0 && now.Sub(s.lastLevel) < s.cfg.LevelInterval {
		return
	}
	s.lastLevel = now
	s.publish("level", level)
}

// OnConnection implements session.Observer.
func (s *Server) OnConnection(open bool) {
	s.UpdateState(func(st *State) {
		st.Connected = open
		if !open {
			st.Level = 0
		}
	})
}

// OnTranscript implements session.Observer.
func (s *Server) OnTranscript(text string) {
	s.UpdateState(func(st *State) { st.LastTranscript = text })
}

// OnEntry implements session.Observer.
func (s *Server) OnEntry(e session.Entry) {
	s.conversationMu.Lock()
	s.conversation = append(s.conversation, e)
	if len(s.conversation) > s.cfg.ConversationLimit {
		s.conversation = s.conversation[1:]
	}
	s.conversationMu.Unlock()

	s.UpdateState(func(st *State) { st.Turns++ })
	s.publish("entry", e)
}

// OnError implements session.Observer.
func (s *Server) OnError(err error) {
	s.UpdateState(func(st *State) {
		st.LastError = err.Error()
		st.ErrorKind = session.KindOf(err)
	})
}

// OnReset implements session.Observer.
func (s *Server) OnReset() {
	s.conversationMu.Lock()
	s.conversation = s.conversation[:0]
	s.conversationMu.Unlock()

	s.UpdateState(func(st *State) {
		st.LastTranscript = ""
		st.LastError = ""
		st.ErrorKind = ""
		st.Turns = 0
	})
	s.publish("reset", nil)
}

var _ session.Observer = (*Server)(nil)
