// Package eventloop runs closures one at a time on a single goroutine.
//
// Everything that mutates session state is posted here: transport events,
// microphone chunks, timer expiries, encoder and player completions. Handlers
// therefore never need locks and always observe a consistent state.
package eventloop

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is a pending one-shot callback.
type Timer interface {
	// Stop prevents the callback from being posted.
	// It returns false if the timer already fired.
	Stop() bool
}

// Canceler stops a repeating task.
type Canceler interface {
	Cancel()
}

// Loop is a single-goroutine executor.
type Loop struct {
	clock clock.Clock
	tasks chan func()

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a loop. buffer bounds the number of queued closures before
// Post blocks.
func New(clk clock.Clock, buffer int) *Loop {
	if clk == nil {
		clk = clock.New()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Loop{
		clock: clk,
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Clock returns the loop's time source.
func (l *Loop) Clock() clock.Clock {
	return l.clock
}

// Run executes posted closures until ctx is cancelled. Run must be called
// at most once. Closures still queued when Run returns are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			fn()
		}
	}
}

func (l *Loop) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues fn for execution on the loop goroutine.
// It returns false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish.
// It must not be called from the loop goroutine.
func (l *Loop) Call(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}

	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// AfterFunc posts fn to the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return l.clock.AfterFunc(d, func() { l.Post(fn) })
}

// Repeat posts fn every interval until cancelled. The next tick is only
// armed after fn has run, so ticks never overlap or queue up behind a
// slow handler. Repeat and Cancel must be called on the loop goroutine.
func (l *Loop) Repeat(interval time.Duration, fn func()) Canceler {
	t := &task{loop: l, interval: interval, fn: fn}
	t.arm()
	return t
}

type task struct {
	loop     *Loop
	interval time.Duration
	fn       func()

	timer     *clock.Timer
	cancelled bool
}

func (t *task) arm() {
	t.timer = t.loop.clock.AfterFunc(t.interval, func() { t.loop.Post(t.run) })
}

func (t *task) run() {
	if t.cancelled {
		return
	}
	t.fn()
	if !t.cancelled {
		t.arm()
	}
}

// Cancel stops the task. A tick already queued on the loop is skipped.
func (t *task) Cancel() {
	t.cancelled = true
	if t.timer != nil {
		t.timer.Stop()
	}
}
