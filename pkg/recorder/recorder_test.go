package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/teslashibe/go-tutor/pkg/audioio"
	"github.com/teslashibe/go-tutor/pkg/protocol"
)

// queue is a Poster whose closures the test runs explicitly.
type queue struct {
	ch chan func()
}

func newQueue() *queue { return &queue{ch: make(chan func(), 64)} }

func (q *queue) Post(fn func()) bool {
	q.ch <- fn
	return true
}

func (q *queue) runNext(t *testing.T) {
	t.Helper()
	select {
	case fn := <-q.ch:
		fn()
	case <-time.After(time.Second):
		t.Fatal("nothing was posted")
	}
}

type fakeEncoder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *fakeEncoder) Encode(chunks []audioio.AudioChunk) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []byte{0x1a, 0x45, 0xdf, 0xa3}, nil
}

func (e *fakeEncoder) MimeType() string { return "audio/fake" }

type fakeSender struct {
	sent []protocol.Outbound
	err  error
}

func (s *fakeSender) Send(msg protocol.Outbound) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

// fakeSource is a microphone whose stream the test feeds.
type fakeSource struct {
	ch     chan audioio.AudioChunk
	closed bool
}

func newFakeSource() *fakeSource { return &fakeSource{ch: make(chan audioio.AudioChunk, 8)} }

func (s *fakeSource) Start(context.Context) error       { return nil }
func (s *fakeSource) Stop() error                       { return nil }
func (s *fakeSource) Stream() <-chan audioio.AudioChunk { return s.ch }
func (s *fakeSource) Config() audioio.Config            { return audioio.DefaultConfig() }
func (s *fakeSource) Name() string                      { return "fake" }
func (s *fakeSource) Close() error {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

var speech = audioio.AudioChunk{Samples: make([]int16, 320), SampleRate: 16000, Channels: 1}

type harness struct {
	rec     *Recorder
	q       *queue
	clk     *clock.Mock
	enc     *fakeEncoder
	sender  *fakeSender
	src     *fakeSource
	results []Result
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		q:      newQueue(),
		clk:    clock.NewMock(),
		enc:    &fakeEncoder{},
		sender: &fakeSender{},
		src:    newFakeSource(),
	}
	h.rec = New(DefaultConfig(), h.enc, h.sender, h.q, h.clk, nil)
	h.rec.OnResult(func(r Result) { h.results = append(h.results, r) })
	if err := h.rec.Acquire(h.src, nil); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	return h
}

// record starts a segment, appends chunks, waits d and stops.
func (h *harness) record(chunks int, d time.Duration) {
	h.rec.Start()
	for i := 0; i < chunks; i++ {
		h.rec.append(h.rec.micGen, speech)
	}
	h.clk.Add(d)
	h.rec.Stop()
}

func TestRecorderSegmentOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		chunks    int
		duration  time.Duration
		encErr    error
		sendErr   error
		want      Outcome
		wantSends int
	}{
		{"sent", 3, 1200 * time.Millisecond, nil, nil, Sent, 1},
		{"noise burst", 3, 100 * time.Millisecond, nil, nil, TooShort, 0},
		{"just under minimum", 3, 299 * time.Millisecond, nil, nil, TooShort, 0},
		{"exactly minimum", 3, 300 * time.Millisecond, nil, nil, Sent, 1},
		{"no chunks", 0, time.Second, nil, nil, Empty, 0},
		{"encoder error", 3, time.Second, errors.New("boom"), nil, EncodeFailed, 0},
		{"transport down", 3, time.Second, nil, errors.New("not connected"), SendFailed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.enc.err = tt.encErr
			h.sender.err = tt.sendErr

			h.record(tt.chunks, tt.duration)
			if h.rec.Capturing() {
				t.Fatal("still capturing after Stop")
			}
			h.q.runNext(t)

			if len(h.results) != 1 {
				t.Fatalf("got %d results, want 1", len(h.results))
			}
			res := h.results[0]
			if res.Outcome != tt.want {
				t.Errorf("Outcome = %v, want %v", res.Outcome, tt.want)
			}
			if res.Duration != tt.duration {
				t.Errorf("Duration = %v, want %v", res.Duration, tt.duration)
			}
			if len(h.sender.sent) != tt.wantSends {
				t.Errorf("got %d sends, want %d", len(h.sender.sent), tt.wantSends)
			}
			if h.rec.Finalizing() {
				t.Error("still finalizing after result")
			}
		})
	}
}

func TestRecorderSentMessage(t *testing.T) {
	h := newHarness(t)
	h.record(2, time.Second)
	h.q.runNext(t)

	audio, ok := h.sender.sent[0].(protocol.Audio)
	if !ok {
		t.Fatalf("sent %T, want protocol.Audio", h.sender.sent[0])
	}
	if audio.MimeType != "audio/fake" {
		t.Errorf("MimeType = %q", audio.MimeType)
	}
	payload, err := audio.Decode()
	if err != nil || len(payload) != 4 {
		t.Errorf("payload = %v, err = %v", payload, err)
	}
	if st := h.rec.Stats(); st.Sent != 1 || st.Started != 1 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestRecorderStartGuards(t *testing.T) {
	q := newQueue()
	rec := New(DefaultConfig(), &fakeEncoder{}, &fakeSender{}, q, clock.NewMock(), nil)
	if rec.Start() {
		t.Fatal("Start without a microphone should be a no-op")
	}

	h := newHarness(t)
	if !h.rec.Start() {
		t.Fatal("Start failed")
	}
	if h.rec.Start() {
		t.Error("Start while capturing should be a no-op")
	}

	h.clk.Add(time.Second)
	h.rec.Stop()
	if h.rec.Start() {
		t.Error("Start while finalizing should be a no-op")
	}
	h.q.runNext(t)
	if !h.rec.Start() {
		t.Error("Start after finalization should succeed")
	}
}

func TestRecorderDiscardDropsPendingSegment(t *testing.T) {
	h := newHarness(t)
	h.record(2, time.Second)
	h.rec.Discard()
	h.q.runNext(t)

	if len(h.results) != 0 {
		t.Errorf("discarded segment produced %d results", len(h.results))
	}
	if len(h.sender.sent) != 0 {
		t.Errorf("discarded segment was sent")
	}
}

func TestRecorderPumpAndRelease(t *testing.T) {
	h := newHarness(t)

	var tapped int
	h.rec.Release()
	if !h.src.closed {
		t.Fatal("Release did not close the source")
	}
	if h.rec.Holding() {
		t.Fatal("still holding after Release")
	}

	src := newFakeSource()
	if err := h.rec.Acquire(src, func(audioio.AudioChunk) { tapped++ }); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := h.rec.Acquire(newFakeSource(), nil); err == nil {
		t.Error("second Acquire should fail")
	}

	h.rec.Start()
	src.ch <- speech
	h.q.runNext(t)
	if tapped != 1 {
		t.Errorf("tap saw %d chunks, want 1", tapped)
	}
	if n := len(h.rec.seg.Chunks); n != 1 {
		t.Errorf("segment has %d chunks, want 1", n)
	}

	// A chunk from a released microphone is ignored.
	staleGen := h.rec.micGen
	h.rec.Release()
	h.rec.append(staleGen, speech)
	if h.rec.Capturing() {
		t.Error("Release should discard the segment")
	}
}
