package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/teslashibe/go-tutor/pkg/audioio"
	"github.com/teslashibe/go-tutor/pkg/protocol"
)

// ErrMicHeld is returned by Acquire while a microphone is already held.
var ErrMicHeld = errors.New("recorder: microphone already held")

// Sender delivers encoded segments to the server.
type Sender interface {
	Send(msg protocol.Outbound) error
}

// Poster runs a closure on the owner's event loop.
type Poster interface {
	Post(fn func()) bool
}

// Outcome is how a finalized segment was handled.
type Outcome int

const (
	// Sent means the segment was encoded and handed to the transport.
	Sent Outcome = iota
	// TooShort means the segment was shorter than MinSpeech.
	TooShort
	// Empty means no audio was captured during the segment.
	Empty
	// EncodeFailed means the encoder returned an error.
	EncodeFailed
	// SendFailed means the transport refused the segment.
	SendFailed
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case TooShort:
		return "too_short"
	case Empty:
		return "empty"
	case EncodeFailed:
		return "encode_failed"
	case SendFailed:
		return "send_failed"
	default:
		return "unknown"
	}
}

// Result describes one finalized segment.
type Result struct {
	SegmentID string
	Outcome   Outcome
	Duration  time.Duration
	Bytes     int
	Err       error

	payload []byte
}

// Accepted reports whether the segment went to the server.
func (r Result) Accepted() bool {
	return r.Outcome == Sent
}

// Segment is the audio accumulated between a speech start and its stop.
type Segment struct {
	ID      string
	Started time.Time
	Chunks  []audioio.AudioChunk
}

// hasAudio reports whether at least one non-empty chunk was captured.
func (s *Segment) hasAudio() bool {
	for i := range s.Chunks {
		if !s.Chunks[i].Empty() {
			return true
		}
	}
	return false
}

// Stats contains recorder statistics.
type Stats struct {
	Started   int64 `json:"started"`
	Sent      int64 `json:"sent"`
	Discarded int64 `json:"discarded"`
	Capturing bool  `json:"capturing"`
}

// Recorder owns the microphone while a connection is open and records at
// most one segment at a time.
//
// Every method except Stats must be called on the event loop. Capture
// chunks and encoder results are posted back to the loop, so segment state
// is never shared with another goroutine.
type Recorder struct {
	cfg    Config
	enc    Encoder
	sender Sender
	poster Poster
	clock  clock.Clock
	logger *slog.Logger

	source audioio.Source
	cancel context.CancelFunc
	micGen uint64

	capturing bool
	seg       *Segment
	pending   string // id of the segment being encoded

	onResult func(Result)

	started   atomic.Int64
	sent      atomic.Int64
	discarded atomic.Int64
	active    atomic.Bool
}

// New creates a recorder.
func New(cfg Config, enc Encoder, sender Sender, poster Poster, clk clock.Clock, logger *slog.Logger) *Recorder {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		cfg:    cfg,
		enc:    enc,
		sender: sender,
		poster: poster,
		clock:  clk,
		logger: logger,
	}
}

// OnResult registers the callback run on the loop for every finalized
// segment.
func (r *Recorder) OnResult(fn func(Result)) {
	r.onResult = fn
}

// Acquire takes ownership of src and starts pumping its chunks into the
// loop. tap, if set, sees every chunk on the capture goroutine before it
// is posted. On error src is closed.
func (r *Recorder) Acquire(src audioio.Source, tap func(audioio.AudioChunk)) error {
	if r.source != nil {
		src.Close()
		return ErrMicHeld
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := src.Start(ctx); err != nil {
		cancel()
		src.Close()
		return fmt.Errorf("start capture: %w", err)
	}

	r.micGen++
	r.source = src
	r.cancel = cancel

	go r.pump(r.micGen, src.Stream(), tap)

	r.logger.Info("microphone acquired", "backend", src.Name())
	return nil
}

func (r *Recorder) pump(gen uint64, stream <-chan audioio.AudioChunk, tap func(audioio.AudioChunk)) {
	for chunk := range stream {
		if tap != nil {
			tap(chunk)
		}
		chunk := chunk
		if !r.poster.Post(func() { r.append(gen, chunk) }) {
			return
		}
	}
}

func (r *Recorder) append(gen uint64, chunk audioio.AudioChunk) {
	if gen != r.micGen || !r.capturing || r.seg == nil {
		return
	}
	r.seg.Chunks = append(r.seg.Chunks, chunk)
}

// Holding reports whether a microphone is held.
func (r *Recorder) Holding() bool {
	return r.source != nil
}

// Capturing reports whether a segment is being recorded.
func (r *Recorder) Capturing() bool {
	return r.capturing
}

// Finalizing reports whether a stopped segment is still being encoded.
func (r *Recorder) Finalizing() bool {
	return r.pending != ""
}

// Start begins a new segment. It is a no-op, returning false, when already
// capturing, while the previous segment is still being finalized, or
// without a microphone.
func (r *Recorder) Start() bool {
	if r.capturing || r.pending != "" || r.source == nil {
		return false
	}

	r.seg = &Segment{ID: uuid.NewString(), Started: r.clock.Now()}
	r.capturing = true
	r.active.Store(true)
	r.started.Add(1)

	r.logger.Debug("segment started", "segment", r.seg.ID)
	return true
}

// Stop ends the current segment and finalizes it off the loop. The result
// is delivered to the OnResult callback. Duration is measured here, at
// stop time.
func (r *Recorder) Stop() {
	if !r.capturing {
		return
	}

	seg := r.seg
	elapsed := r.clock.Since(seg.Started)
	r.seg = nil
	r.capturing = false
	r.active.Store(false)
	r.pending = seg.ID

	go func() {
		res := r.finalize(seg, elapsed)
		r.poster.Post(func() { r.complete(res) })
	}()
}

func (r *Recorder) finalize(seg *Segment, elapsed time.Duration) Result {
	res := Result{SegmentID: seg.ID, Duration: elapsed}

	switch {
	case elapsed < r.cfg.MinSpeech:
		res.Outcome = TooShort
		return res
	case !seg.hasAudio():
		res.Outcome = Empty
		return res
	}

	blob, err := r.enc.Encode(seg.Chunks)
	if err != nil {
		res.Outcome = EncodeFailed
		res.Err = err
		return res
	}
	res.payload = blob
	res.Bytes = len(blob)
	return res
}

func (r *Recorder) complete(res Result) {
	if res.SegmentID != r.pending {
		r.logger.Debug("dropping stale segment", "segment", res.SegmentID)
		return
	}
	r.pending = ""

	if res.Err == nil && res.payload != nil {
		if err := r.sender.Send(protocol.NewAudio(res.payload, r.enc.MimeType())); err != nil {
			res.Outcome = SendFailed
			res.Err = err
		} else {
			res.Outcome = Sent
		}
		res.payload = nil
	}

	if res.Accepted() {
		r.sent.Add(1)
		r.logger.Info("segment sent",
			"segment", res.SegmentID,
			"duration", res.Duration,
			"bytes", res.Bytes,
			"mime", r.enc.MimeType(),
		)
	} else {
		r.discarded.Add(1)
		r.logger.Debug("segment discarded",
			"segment", res.SegmentID,
			"reason", res.Outcome,
			"duration", res.Duration,
			"error", res.Err,
		)
	}

	if r.onResult != nil {
		r.onResult(res)
	}
}

// Discard drops the current segment and any segment still being encoded
// without notifying OnResult.
func (r *Recorder) Discard() {
	if r.capturing {
		r.logger.Debug("segment abandoned", "segment", r.seg.ID)
		r.discarded.Add(1)
	}
	r.seg = nil
	r.capturing = false
	r.active.Store(false)
	r.pending = ""
}

// Release discards any segment and gives up the microphone.
func (r *Recorder) Release() {
	r.Discard()
	if r.source == nil {
		return
	}

	r.micGen++
	r.cancel()
	if err := r.source.Close(); err != nil {
		r.logger.Warn("close microphone", "error", err)
	}
	r.source = nil
	r.cancel = nil

	r.logger.Info("microphone released")
}

// Stats returns recorder statistics. It is safe to call from any goroutine.
func (r *Recorder) Stats() Stats {
	return Stats{
		Started:   r.started.Load(),
		Sent:      r.sent.Load(),
		Discarded: r.discarded.Load(),
		Capturing: r.active.Load(),
	}
}
