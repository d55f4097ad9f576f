package eventloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func startLoop(t *testing.T, clk clock.Clock) *Loop {
	t.Helper()
	l := New(clk, 16)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

func TestPostRunsInOrder(t *testing.T) {
	l := startLoop(t, nil)

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Call(func() {})

	for i, v := range got {
		if v != i {
			t.Fatalf("got order %v", got)
		}
	}
	if len(got) != 5 {
		t.Errorf("got %d tasks, want 5", len(got))
	}
}

func TestPostAfterStop(t *testing.T) {
	l := New(nil, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	cancel()
	<-l.Done()

	if l.Post(func() {}) {
		t.Error("Post should fail once the loop has stopped")
	}
	if l.Call(func() {}) {
		t.Error("Call should fail once the loop has stopped")
	}
}

func TestAfterFuncStop(t *testing.T) {
	l := startLoop(t, nil)

	var fired atomic.Bool
	timer := l.AfterFunc(20*time.Millisecond, func() { fired.Store(true) })
	if !timer.Stop() {
		t.Fatal("Stop should report the timer as pending")
	}

	time.Sleep(50 * time.Millisecond)
	l.Call(func() {})
	if fired.Load() {
		t.Error("stopped timer fired")
	}
}

func TestRepeatTicksUntilCancelled(t *testing.T) {
	l := startLoop(t, nil)

	ticks := make(chan struct{}, 100)
	var task Canceler
	l.Call(func() {
		task = l.Repeat(5*time.Millisecond, func() { ticks <- struct{}{} })
	})

	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(time.Second):
			t.Fatalf("tick %d never arrived", i)
		}
	}

	l.Call(task.Cancel)
	for len(ticks) > 0 {
		<-ticks
	}
	time.Sleep(30 * time.Millisecond)
	l.Call(func() {})
	if n := len(ticks); n != 0 {
		t.Errorf("got %d ticks after Cancel", n)
	}
}
