package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// Kind classifies how a playback ended.
type Kind int

const (
	// Completed means the reply played to the end.
	Completed Kind = iota
	// Blocked means the player could not start.
	Blocked
	// Failed means the player exited abnormally.
	Failed
)

func (k Kind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Blocked:
		return "blocked"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is delivered once per reply that was not interrupted.
type Result struct {
	Kind Kind
	Err  error
}

// Poster runs a closure on the owner's event loop.
type Poster interface {
	Post(fn func()) bool
}

// Stats contains playback statistics.
type Stats struct {
	Started     int64 `json:"started"`
	Completed   int64 `json:"completed"`
	Interrupted int64 `json:"interrupted"`
	Blocked     int64 `json:"blocked"`
	Failed      int64 `json:"failed"`
}

// Controller plays at most one reply at a time. Starting a new reply
// stops the previous one, and results of stopped replies are never
// delivered, so the owner sees exactly one result per reply it let finish.
//
// Play and Stop must be called on the event loop; results are posted there.
type Controller struct {
	backend Backend
	poster  Poster
	logger  *slog.Logger

	active   Handle
	activeID uint64
	onResult func(Result)

	started     atomic.Int64
	completed   atomic.Int64
	interrupted atomic.Int64
	blocked     atomic.Int64
	failed      atomic.Int64
}

// NewController creates a controller.
func NewController(backend Backend, poster Poster, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{backend: backend, poster: poster, logger: logger}
}

// OnResult registers the callback run on the loop when a reply ends.
func (c *Controller) OnResult(fn func(Result)) {
	c.onResult = fn
}

// Playing reports whether a reply is active.
func (c *Controller) Playing() bool {
	return c.active != nil
}

// Play interrupts any active reply and starts payload.
func (c *Controller) Play(payload []byte, mimeType string) {
	c.Stop()

	c.activeID++
	id := c.activeID
	c.started.Add(1)

	h, err := c.backend.Start(context.Background(), payload, mimeType)
	if err != nil {
		kind := Failed
		if errors.Is(err, ErrBlocked) {
			kind = Blocked
		}
		c.active = nil
		c.poster.Post(func() { c.finish(id, Result{Kind: kind, Err: err}) })
		return
	}

	c.active = h
	c.logger.Info("playing reply", "mime", mimeType, "bytes", len(payload))

	go func() {
		err := h.Wait()
		res := Result{Kind: Completed}
		if err != nil {
			res = Result{Kind: Failed, Err: errors.Join(ErrFailed, err)}
		}
		c.poster.Post(func() { c.finish(id, res) })
	}()
}

// Stop interrupts the active reply, if any. Its result is discarded.
func (c *Controller) Stop() {
	if c.active == nil {
		return
	}
	h := c.active
	c.active = nil
	c.activeID++
	c.interrupted.Add(1)

	if err := h.Stop(); err != nil {
		c.logger.Warn("stop player", "error", err)
	}
	c.logger.Debug("reply interrupted")
}

func (c *Controller) finish(id uint64, res Result) {
	if id != c.activeID {
		c.logger.Debug("ignoring result of interrupted reply", "result", res.Kind)
		return
	}
	c.active = nil

	switch res.Kind {
	case Completed:
		c.completed.Add(1)
		c.logger.Info("reply finished")
	case Blocked:
		c.blocked.Add(1)
		c.logger.Warn("playback blocked", "error", res.Err)
	case Failed:
		c.failed.Add(1)
		c.logger.Error("playback failed", "error", res.Err)
	}

	if c.onResult != nil {
		c.onResult(res)
	}
}

// Stats returns playback statistics. It is safe to call from any goroutine.
func (c *Controller) Stats() Stats {
	return Stats{
		Started:     c.started.Load(),
		Completed:   c.completed.Load(),
		Interrupted: c.interrupted.Load(),
		Blocked:     c.blocked.Load(),
		Failed:      c.failed.Load(),
	}
}
