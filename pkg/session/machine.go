package session

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/teslashibe/go-tutor/pkg/audioio"
	"github.com/teslashibe/go-tutor/pkg/eventloop"
	"github.com/teslashibe/go-tutor/pkg/metrics"
	"github.com/teslashibe/go-tutor/pkg/playback"
	"github.com/teslashibe/go-tutor/pkg/protocol"
	"github.com/teslashibe/go-tutor/pkg/recorder"
	"github.com/teslashibe/go-tutor/pkg/vad"
)

// Scheduler is the event loop surface the machine runs on.
type Scheduler interface {
	Post(fn func()) bool
	AfterFunc(d time.Duration, fn func()) eventloop.Timer
	Repeat(interval time.Duration, fn func()) eventloop.Canceler
}

// Sender delivers outbound messages to the server.
type Sender interface {
	Send(msg protocol.Outbound) error
}

// LevelMeter converts captured audio into a loudness level.
type LevelMeter interface {
	Write(chunk audioio.AudioChunk)
	Level() float64
	Reset()
}

// MicOpener creates a microphone source. It runs off the event loop.
type MicOpener func() (audioio.Source, error)

// Deps are the collaborators a Machine drives.
type Deps struct {
	Scheduler Scheduler
	Sender    Sender
	Meter     LevelMeter
	OpenMic   MicOpener
	Encoder   recorder.Encoder
	Player    playback.Backend
	Clock     clock.Clock
	Observer  Observer
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Status is a point-in-time view of the machine.
type Status struct {
	Phase     Phase          `json:"phase"`
	Connected bool           `json:"connected"`
	MicHeld   bool           `json:"mic_held"`
	Entries   int            `json:"entries"`
	LastError string         `json:"last_error,omitempty"`
	Recorder  recorder.Stats `json:"recorder"`
	Playback  playback.Stats `json:"playback"`
}

// Machine is the session state machine. It owns the phase and is the only
// code that changes it. All methods must be called on the event loop.
type Machine struct {
	cfg     Config
	sched   Scheduler
	sender  Sender
	meter   LevelMeter
	openMic MicOpener
	obs     Observer
	metrics *metrics.Metrics
	clock   clock.Clock
	logger  *slog.Logger

	detector *vad.Detector
	recorder *recorder.Recorder
	player   *playback.Controller

	phase     Phase
	connected bool
	// connGen invalidates microphone acquisitions started for an earlier
	// connection.
	connGen uint64
	ticker  eventloop.Canceler
	entries []Entry
	lastErr error
}

// NewMachine creates a machine in Idle, disconnected.
func NewMachine(cfg Config, deps Deps) *Machine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	obs := deps.Observer
	if obs == nil {
		obs = NopObserver{}
	}

	m := &Machine{
		cfg:     cfg,
		sched:   deps.Scheduler,
		sender:  deps.Sender,
		meter:   deps.Meter,
		openMic: deps.OpenMic,
		obs:     obs,
		metrics: deps.Metrics,
		clock:   clk,
		logger:  logger,
		phase:   Idle,
	}

	m.detector = vad.NewDetector(cfg.VAD, deps.Scheduler, m.speechEnd, logger.With("component", "vad"))
	m.recorder = recorder.New(cfg.Recorder, deps.Encoder, deps.Sender, deps.Scheduler, clk, logger.With("component", "recorder"))
	m.recorder.OnResult(m.onSegment)
	m.player = playback.NewController(deps.Player, deps.Scheduler, logger.With("component", "playback"))
	m.player.OnResult(m.onPlayback)

	return m
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// Connected reports whether the session connection is open.
func (m *Machine) Connected() bool { return m.connected }

// Entries returns a copy of the conversation log.
func (m *Machine) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

// Status returns a snapshot of the machine.
func (m *Machine) Status() Status {
	st := Status{
		Phase:     m.phase,
		Connected: m.connected,
		MicHeld:   m.recorder.Holding(),
		Entries:   len(m.entries),
		Recorder:  m.recorder.Stats(),
		Playback:  m.player.Stats(),
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// transition is the single place the phase changes. Disallowed changes
// are logged and refused.
func (m *Machine) transition(to Phase, reason string) bool {
	from := m.phase
	if from == to {
		return true
	}
	if !CanTransition(from, to) {
		m.logger.Error("refusing phase change", "from", from, "to", to, "reason", reason)
		return false
	}

	m.phase = to
	m.logger.Debug("phase", "from", from, "to", to, "reason", reason)
	m.metrics.RecordTransition(from.String(), to.String())
	m.obs.OnPhase(from, to)
	return true
}

func (m *Machine) fail(err *Error) {
	m.lastErr = err
	m.metrics.RecordError(string(err.Kind))
	m.obs.OnError(err)
}

func (m *Machine) appendEntry(e Entry) {
	m.entries = append(m.entries, e)
	m.obs.OnEntry(e)
}

// HandleOpen reacts to the connection opening by acquiring the microphone.
func (m *Machine) HandleOpen() {
	m.connected = true
	m.connGen++
	m.metrics.RecordConnection(true)
	m.obs.OnConnection(true)
	m.acquireMic()
}

func (m *Machine) acquireMic() {
	gen := m.connGen
	open := m.openMic
	go func() {
		src, err := open()
		if !m.sched.Post(func() { m.micAcquired(gen, src, err) }) && src != nil {
			src.Close()
		}
	}()
}

func (m *Machine) micAcquired(gen uint64, src audioio.Source, err error) {
	if gen != m.connGen || !m.connected {
		if src != nil {
			src.Close()
		}
		m.logger.Debug("discarding stale microphone")
		return
	}
	if err == nil {
		err = m.recorder.Acquire(src, m.meter.Write)
	}
	if err != nil {
		m.fail(&Error{Kind: KindPermissionDenied, Message: "microphone unavailable", Cause: err})
		return
	}

	m.meter.Reset()
	m.ticker = m.sched.Repeat(m.cfg.VAD.TickInterval, m.Tick)
}

// HandleClose reacts to the connection closing. Capture stops and the
// microphone is released; a reply that was being waited for is abandoned.
func (m *Machine) HandleClose() {
	if !m.connected {
		return
	}
	m.connected = false
	m.connGen++
	m.metrics.RecordConnection(false)
	m.obs.OnConnection(false)

	m.teardownCapture()
	if m.phase == Thinking || m.phase == Listening {
		m.transition(Idle, "connection closed")
	}
}

func (m *Machine) teardownCapture() {
	if m.ticker != nil {
		m.ticker.Cancel()
		m.ticker = nil
	}
	m.detector.Reset()
	m.recorder.Release()
	m.obs.OnLevel(0)
}

// Tick samples the level once and feeds the detector.
func (m *Machine) Tick() {
	muted := m.phase == Thinking || m.phase == Speaking

	var level float64
	if !muted {
		level = m.meter.Level()
	}

	d := m.detector.Tick(vad.Input{
		Level:     level,
		Muted:     muted,
		Capturing: m.recorder.Capturing(),
	})
	m.obs.OnLevel(d.Level)

	if d.Intent == vad.SpeechStart {
		m.speechStart()
	}
}

func (m *Machine) speechStart() {
	if m.phase != Idle {
		return
	}
	if !m.recorder.Start() {
		return
	}
	m.transition(Listening, "speech detected")
}

func (m *Machine) speechEnd() {
	m.recorder.Stop()
}

func (m *Machine) onSegment(res recorder.Result) {
	m.metrics.RecordSegment(res.Outcome.String(), res.Duration, res.Bytes)
	if m.phase != Listening {
		return
	}
	if res.Accepted() {
		m.transition(Thinking, "segment sent")
		return
	}
	m.transition(Idle, "segment "+res.Outcome.String())
}

// HandleMessage applies one server message.
func (m *Machine) HandleMessage(msg protocol.Inbound) {
	m.metrics.RecordMessage(string(msg.Type()))

	switch msg := msg.(type) {
	case protocol.Transcript:
		m.logger.Debug("transcript", "text", msg.Text)
		m.obs.OnTranscript(msg.Text)

	case protocol.Response:
		m.appendEntry(Entry{
			Role:    RoleTutor,
			Text:    msg.Text,
			Quality: msg.Quality,
			Turn:    msg.Turn,
			At:      m.clock.Now(),
		})
		if m.phase == Thinking {
			m.transition(Idle, "response received")
		}

	case protocol.Audio:
		m.playReply(msg)

	case protocol.Error:
		m.abandon()
		m.fail(&Error{Kind: KindServer, Message: msg.Text})
		m.transition(Idle, "server error")
	}
}

func (m *Machine) playReply(a protocol.Audio) {
	if m.phase == Listening {
		m.logger.Warn("dropping reply audio while listening")
		return
	}

	payload, err := a.Decode()
	if err != nil {
		m.player.Stop()
		m.fail(&Error{Kind: KindPlayback, Message: "invalid reply audio", Cause: err})
		m.transition(Idle, "invalid reply audio")
		return
	}

	if m.phase == Speaking {
		m.logger.Info("new reply interrupts the current one")
	}
	m.transition(Speaking, "reply audio")
	m.player.Play(payload, a.MimeType)
}

func (m *Machine) onPlayback(res playback.Result) {
	m.metrics.RecordPlayback(res.Kind.String())
	if res.Kind == playback.Failed {
		m.fail(&Error{Kind: KindPlayback, Message: "audio playback failed", Cause: res.Err})
	}
	if m.phase == Speaking {
		m.transition(Idle, "reply "+res.Kind.String())
	}
}

// abandon drops whatever the current phase was doing.
func (m *Machine) abandon() {
	switch m.phase {
	case Listening:
		m.detector.Reset()
		m.recorder.Discard()
	case Speaking:
		m.player.Stop()
	}
}

// SendText sends a typed turn instead of speech. It is only accepted in
// Idle with an open connection.
func (m *Machine) SendText(text string) error {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return ErrEmptyText
	case !m.connected:
		return ErrNotConnected
	case m.phase != Idle:
		return fmt.Errorf("%w: %s", ErrBusy, m.phase)
	}

	if err := m.sender.Send(protocol.Text{Text: text}); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	m.appendEntry(Entry{Role: RoleUser, Text: text, At: m.clock.Now()})
	m.transition(Thinking, "text sent")
	return nil
}

// Reset abandons any activity, clears the conversation log and error, and
// returns to Idle. With an open connection the microphone is reacquired.
func (m *Machine) Reset() {
	m.teardownCapture()
	m.player.Stop()
	m.entries = nil
	m.lastErr = nil
	m.transition(Idle, "reset")
	m.obs.OnReset()

	if m.connected {
		m.connGen++
		m.acquireMic()
	}
}

// Shutdown releases the microphone and stops playback.
func (m *Machine) Shutdown() {
	m.connGen++
	m.teardownCapture()
	m.player.Stop()
	m.transition(Idle, "shutdown")
}
