package vad

import (
	"log/slog"
	"math"
	"time"

	"github.com/teslashibe/go-tutor/pkg/eventloop"
)

// Intent is the detector's verdict for one tick.
type Intent int

const (
	// None means nothing changed.
	None Intent = iota
	// SpeechStart asks the owner to begin capturing a segment.
	SpeechStart
)

func (i Intent) String() string {
	if i == SpeechStart {
		return "speech_start"
	}
	return "none"
}

// Input is one sampling frame.
type Input struct {
	// Level is the normalized loudness in [0, 1].
	Level float64
	// Muted is set while the tutor is thinking or speaking. Classification
	// is suspended so the tutor's own voice is never captured.
	Muted bool
	// Capturing reports whether a segment is being recorded.
	Capturing bool
}

// Decision is the detector's output for one frame.
type Decision struct {
	// Level is the value to display; zero while muted.
	Level  float64
	Intent Intent
}

// Scheduler arms one-shot timers on the owner's event loop.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) eventloop.Timer
}

// Detector classifies levels with hysteresis and owns the silence timer.
// It is not safe for concurrent use; call it from the event loop.
type Detector struct {
	cfg    Config
	sched  Scheduler
	onEnd  func()
	logger *slog.Logger

	silence eventloop.Timer
	// gen invalidates a timer callback that was already queued when the
	// timer was cancelled.
	gen uint64
}

// NewDetector creates a detector. onSpeechEnd runs on the event loop when
// the silence delay elapses while capturing.
func NewDetector(cfg Config, sched Scheduler, onSpeechEnd func(), logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		cfg:    cfg,
		sched:  sched,
		onEnd:  onSpeechEnd,
		logger: logger,
	}
}

// Tick classifies one frame.
func (d *Detector) Tick(in Input) Decision {
	if in.Muted {
		return Decision{}
	}

	level := clamp(in.Level)

	switch {
	case level > d.cfg.SpeechThreshold:
		d.cancelSilence()
		if !in.Capturing {
			return Decision{Level: level, Intent: SpeechStart}
		}
	case level < d.cfg.SilenceThreshold:
		if in.Capturing && d.silence == nil {
			d.armSilence()
		}
	case in.Capturing:
		// Between the thresholds the speaker may still be talking.
		d.cancelSilence()
	}

	return Decision{Level: level}
}

// SilencePending reports whether the silence timer is armed.
func (d *Detector) SilencePending() bool {
	return d.silence != nil
}

// Reset cancels any pending silence timer.
func (d *Detector) Reset() {
	d.cancelSilence()
}

func (d *Detector) armSilence() {
	d.gen++
	gen := d.gen
	d.silence = d.sched.AfterFunc(d.cfg.SilenceDelay, func() {
		if gen != d.gen || d.silence == nil {
			return
		}
		d.silence = nil
		d.logger.Debug("silence delay elapsed", "delay", d.cfg.SilenceDelay)
		if d.onEnd != nil {
			d.onEnd()
		}
	})
}

func (d *Detector) cancelSilence() {
	if d.silence == nil {
		return
	}
	d.silence.Stop()
	d.silence = nil
	d.gen++
}

func clamp(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
