package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-tutor/pkg/protocol"
)

// ErrNotConnected is returned by Send while no connection is open.
// Messages are never queued for a later connection.
var ErrNotConnected = errors.New("transport: not connected")

// State is the connection lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats contains transport statistics.
type Stats struct {
	State      string `json:"state"`
	Attempts   int64  `json:"attempts"`
	Opens      int64  `json:"opens"`
	FramesIn   int64  `json:"frames_in"`
	Dropped    int64  `json:"dropped"`
	FramesOut  int64  `json:"frames_out"`
	SendErrors int64  `json:"send_errors"`
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the clock used for the reconnect delay.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// Client owns the session connection. Run keeps it connected until its
// context ends; callbacks fire on the reader goroutine.
type Client struct {
	cfg    Config
	url    string
	logger *slog.Logger
	clock  clock.Clock
	dialer *websocket.Dialer

	// wait sleeps between attempts. Tests replace it.
	wait func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	conn  *websocket.Conn
	state State

	writeMu sync.Mutex

	onOpen    func()
	onClose   func()
	onMessage func(protocol.Inbound)

	attempts   atomic.Int64
	opens      atomic.Int64
	framesIn   atomic.Int64
	dropped    atomic.Int64
	framesOut  atomic.Int64
	sendErrors atomic.Int64
}

// New creates a client for cfg. It does not connect until Run.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	u, err := EndpointURL(cfg.ServerURL, cfg.Path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:    cfg,
		url:    u,
		logger: logger,
		clock:  clock.New(),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		state:  StateClosed,
	}
	c.wait = c.sleep
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the endpoint the client dials.
func (c *Client) URL() string { return c.url }

// OnOpen registers the callback run after each successful connect.
func (c *Client) OnOpen(fn func()) { c.onOpen = fn }

// OnClose registers the callback run after an open connection closes.
// Failed dial attempts do not raise it.
func (c *Client) OnClose(fn func()) { c.onClose = fn }

// OnMessage registers the callback run for every well-formed frame.
func (c *Client) OnMessage(fn func(protocol.Inbound)) { c.onMessage = fn }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.logger.Debug("connection state", "from", prev, "to", s)
	}
}

// Run connects and reconnects until ctx is cancelled. Every close, and
// every failed attempt, is followed by ReconnectDelay before the next try.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info("session transport starting", "url", c.url)
	defer c.setState(StateClosed)

	for {
		c.setState(StateConnecting)
		c.attempts.Add(1)

		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.setState(StateClosed)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("connect failed", "url", c.url, "error", err)
		} else {
			c.serve(ctx, conn)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Info("reconnecting", "in", c.cfg.ReconnectDelay)
		if err := c.wait(ctx, c.cfg.ReconnectDelay); err != nil {
			return err
		}
	}
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	t := c.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// serve runs one connection until it closes. The keepalive and close
// watcher goroutines are scoped to the connection so none outlive it.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	c.opens.Add(1)
	c.logger.Info("connected", "url", c.url)
	if c.onOpen != nil {
		c.onOpen()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.keepAlive(connCtx, conn)
	}()
	go func() {
		defer wg.Done()
		<-connCtx.Done()
		if ctx.Err() != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
		}
		conn.Close()
	}()

	err := c.readLoop(conn)

	c.mu.Lock()
	c.conn = nil
	c.state = StateClosed
	c.mu.Unlock()

	cancel()
	wg.Wait()

	switch {
	case ctx.Err() != nil:
		c.logger.Info("connection closed", "reason", "shutdown")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.logger.Info("connection closed by server", "error", err)
	default:
		c.logger.Warn("connection lost", "error", err)
	}

	if c.onClose != nil {
		c.onClose()
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}
	extend := func() {
		if c.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		extend()

		if kind != websocket.TextMessage {
			c.dropped.Add(1)
			c.logger.Warn("dropping non-text frame", "kind", kind, "bytes", len(data))
			continue
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	msg, err := protocol.Parse(data)
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		c.dropped.Add(1)
		c.logger.Debug("ignoring message", "error", err)
		return
	case err != nil:
		c.dropped.Add(1)
		c.logger.Warn("dropping malformed frame", "error", err, "bytes", len(data))
		return
	}

	c.framesIn.Add(1)
	if c.onMessage != nil {
		c.onMessage(msg)
	}
}

func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn) {
	if c.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// Send writes msg on the open connection. While not connected it logs a
// warning and returns ErrNotConnected.
func (c *Client) Send(msg protocol.Outbound) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.sendErrors.Add(1)
		c.logger.Warn("cannot send, not connected", "type", msg.Type())
		return ErrNotConnected
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		c.sendErrors.Add(1)
		return fmt.Errorf("encode %s: %w", msg.Type(), err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.sendErrors.Add(1)
		return fmt.Errorf("send %s: %w", msg.Type(), err)
	}

	c.framesOut.Add(1)
	c.logger.Debug("sent", "type", msg.Type(), "bytes", len(data))
	return nil
}

// Stats returns transport statistics.
func (c *Client) Stats() Stats {
	return Stats{
		State:      c.State().String(),
		Attempts:   c.attempts.Load(),
		Opens:      c.opens.Load(),
		FramesIn:   c.framesIn.Load(),
		Dropped:    c.dropped.Load(),
		FramesOut:  c.framesOut.Load(),
		SendErrors: c.sendErrors.Load(),
	}
}
