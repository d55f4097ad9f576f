// Package loopback is a development server that speaks the tutor session
// protocol. It answers every turn with a transcript, a canned response and
// the user's own audio, so the client can be exercised without the tutor
// backend.
package loopback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-tutor/pkg/protocol"
)

// Config holds loopback server settings.
type Config struct {
	// Addr is the listen address.
	// Default: "127.0.0.1:8000"
	Addr string `yaml:"addr" json:"addr"`

	// Path is the session endpoint.
	// Default: "/ws/session"
	Path string `yaml:"path" json:"path"`

	// ReplyDelay simulates the time the tutor takes to answer.
	// Default: 300ms
	ReplyDelay time.Duration `yaml:"reply_delay" json:"reply_delay"`

	// Echo sends the user's audio back as the spoken reply.
	// Default: true
	Echo bool `yaml:"echo" json:"echo"`
}

// DefaultConfig returns the default loopback configuration.
func DefaultConfig() Config {
	return Config{
		Addr:       "127.0.0.1:8000",
		Path:       "/ws/session",
		ReplyDelay: 300 * time.Millisecond,
		Echo:       true,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if len(c.Path) == 0 || c.Path[0] != '/' {
		return fmt.Errorf("path must start with /: %q", c.Path)
	}
	if c.ReplyDelay < 0 {
		return errors.New("reply_delay must not be negative")
	}
	return nil
}

// Conn is one connected session.
type Conn struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time

	mu       sync.Mutex
	lastSeen time.Time
	turn     int
}

// Send writes a server message to the session.
func (c *Conn) Send(msg protocol.Inbound) error {
	data, err := protocol.EncodeInbound(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) nextTurn() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turn++
	c.lastSeen = time.Now()
	return c.turn
}

// Server accepts tutor sessions.
type Server struct {
	cfg    Config
	logger *slog.Logger
	app    *fiber.App

	mu       sync.RWMutex
	sessions map[string]*Conn

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	turns            atomic.Uint64
}

// New creates a loopback server with its routes registered.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Conn),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Tutor Loopback",
		DisableStartupMessage: true,
	})
	s.RegisterRoutes(app)
	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// RegisterRoutes registers the health and session routes on a Fiber app
func (s *Server) RegisterRoutes(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"service":  "loopback",
			"sessions": s.SessionCount(),
		})
	})
	app.Get("/api/stats", func(c *fiber.Ctx) error {
		return c.JSON(s.GetStats())
	})

	// WebSocket upgrade middleware
	app.Use(s.cfg.Path, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get(s.cfg.Path, websocket.New(s.handleSession))
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("loopback server listening", "addr", s.cfg.Addr, "path", s.cfg.Path)
		errCh <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("loopback: %w", err)
	case <-ctx.Done():
	}
	return s.app.ShutdownWithTimeout(5 * time.Second)
}

// handleSession serves one session connection
func (s *Server) handleSession(c *websocket.Conn) {
	sess := &Conn{
		ID:        uuid.NewString(),
		Conn:      c,
		Connected: time.Now(),
		lastSeen:  time.Now(),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	count := len(s.sessions)
	s.mu.Unlock()
	s.logger.Info("session connected", "session", sess.ID, "sessions", count)

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.ID)
		count := len(s.sessions)
		s.mu.Unlock()
		s.logger.Info("session disconnected", "session", sess.ID, "sessions", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			s.logger.Debug("session read ended", "session", sess.ID, "error", err)
			return
		}

		s.messagesReceived.Add(1)
		if err := s.handleMessage(sess, data); err != nil {
			s.logger.Warn("session write failed", "session", sess.ID, "error", err)
			return
		}
	}
}

// handleMessage answers one client frame. Only write errors are returned.
func (s *Server) handleMessage(sess *Conn, data []byte) error {
	msg, err := protocol.ParseOutbound(data)
	if err != nil {
		s.logger.Warn("bad client frame", "session", sess.ID, "error", err)
		return s.send(sess, protocol.Error{Text: "Malformed message"})
	}

	switch msg := msg.(type) {
	case protocol.Audio:
		if msg.Data == "" {
			return nil
		}
		payload, err := msg.Decode()
		if err != nil {
			return s.send(sess, protocol.Error{Text: "Failed to decode audio data"})
		}
		heard := fmt.Sprintf("[%d bytes of %s]", len(payload), msg.MimeType)
		if err := s.send(sess, protocol.Transcript{Text: heard}); err != nil {
			return err
		}
		var reply []byte
		if s.cfg.Echo {
			reply = payload
		}
		return s.respond(sess, "I heard "+heard+".", reply, msg.MimeType)

	case protocol.Text:
		if msg.Text == "" {
			return nil
		}
		return s.respond(sess, "You said: "+msg.Text, nil, "")
	}
	return nil
}

// respond sends the response for one turn and, if audio is set, the
// spoken reply.
func (s *Server) respond(sess *Conn, text string, audio []byte, mimeType string) error {
	time.Sleep(s.cfg.ReplyDelay)

	turn := sess.nextTurn()
	s.turns.Add(1)
	quality, _ := json.Marshal("unknown")

	if err := s.send(sess, protocol.Response{Text: text, Quality: quality, Turn: turn}); err != nil {
		return err
	}
	if len(audio) == 0 {
		return nil
	}
	return s.send(sess, protocol.NewAudio(audio, mimeType))
}

func (s *Server) send(sess *Conn, msg protocol.Inbound) error {
	s.messagesSent.Add(1)
	return sess.Send(msg)
}

// SessionCount returns the number of connected sessions
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Stats contains server statistics
type Stats struct {
	Sessions         int    `json:"sessions"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	Turns            uint64 `json:"turns"`
}

// GetStats returns server statistics
func (s *Server) GetStats() Stats {
	return Stats{
		Sessions:         s.SessionCount(),
		MessagesReceived: s.messagesReceived.Load(),
		MessagesSent:     s.messagesSent.Load(),
		Turns:            s.turns.Load(),
	}
}
