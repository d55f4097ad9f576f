package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/teslashibe/go-tutor/pkg/audioio"
	"github.com/teslashibe/go-tutor/pkg/eventloop"
	"github.com/teslashibe/go-tutor/pkg/metrics"
	"github.com/teslashibe/go-tutor/pkg/playback"
	"github.com/teslashibe/go-tutor/pkg/protocol"
	"github.com/teslashibe/go-tutor/pkg/recorder"
	"github.com/teslashibe/go-tutor/pkg/transport"
	"github.com/teslashibe/go-tutor/pkg/vad"
)

// Config holds the configuration of every session component.
type Config struct {
	Audio     audioio.Config   `yaml:"audio" json:"audio"`
	VAD       vad.Config       `yaml:"vad" json:"vad"`
	Recorder  recorder.Config  `yaml:"recorder" json:"recorder"`
	Transport transport.Config `yaml:"transport" json:"transport"`
	Playback  playback.Config  `yaml:"playback" json:"playback"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Audio:     audioio.DefaultConfig(),
		VAD:       vad.DefaultConfig(),
		Recorder:  recorder.DefaultConfig(),
		Transport: transport.DefaultConfig(),
		Playback:  playback.DefaultConfig(),
	}
}

// Validate checks every component configuration.
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad: %w", err)
	}
	if err := c.Recorder.Validate(); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	return nil
}

// Session wires the machine to a real microphone, the server connection
// and an audio player, all driven by one event loop.
type Session struct {
	cfg     Config
	logger  *slog.Logger
	loop    *eventloop.Loop
	client  *transport.Client
	machine *Machine
}

// New builds a session. obs and m may be nil.
func New(cfg Config, obs Observer, m *metrics.Metrics, logger *slog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	enc, err := recorder.NewEncoder(cfg.Recorder, cfg.Audio.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}

	clk := clock.New()
	loop := eventloop.New(clk, 256)

	client, err := transport.New(cfg.Transport, logger.With("component", "transport"))
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	audioCfg := cfg.Audio
	audioLogger := logger.With("component", "audio")
	machine := NewMachine(cfg, Deps{
		Scheduler: loop,
		Sender:    client,
		Meter:     vad.NewAnalyser(cfg.VAD),
		OpenMic: func() (audioio.Source, error) {
			return audioio.NewSource(audioCfg, audioLogger)
		},
		Encoder:  enc,
		Player:   playback.NewExecBackend(cfg.Playback, logger.With("component", "player")),
		Clock:    clk,
		Observer: obs,
		Metrics:  m,
		Logger:   logger.With("component", "session"),
	})

	client.OnOpen(func() { loop.Post(machine.HandleOpen) })
	client.OnClose(func() { loop.Post(machine.HandleClose) })
	client.OnMessage(func(msg protocol.Inbound) {
		loop.Post(func() { machine.HandleMessage(msg) })
	})

	return &Session{
		cfg:     cfg,
		logger:  logger,
		loop:    loop,
		client:  client,
		machine: machine,
	}, nil
}

// URL returns the session endpoint.
func (s *Session) URL() string { return s.client.URL() }

// Run connects to the server and drives the session until ctx is
// cancelled. The microphone and player are released before it returns.
func (s *Session) Run(ctx context.Context) error {
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = s.loop.Run(loopCtx)
	}()

	s.logger.Info("session starting", "url", s.client.URL())
	err := s.client.Run(ctx)

	s.loop.Call(s.machine.Shutdown)
	stopLoop()
	<-loopDone

	s.logger.Info("session stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Reset abandons the current activity and clears the conversation.
func (s *Session) Reset() error {
	if !s.loop.Call(s.machine.Reset) {
		return ErrStopped
	}
	return nil
}

// SendText sends a typed turn.
func (s *Session) SendText(text string) error {
	var err error
	if !s.loop.Call(func() { err = s.machine.SendText(text) }) {
		return ErrStopped
	}
	return err
}

// Status returns a snapshot of the session.
func (s *Session) Status() (Status, error) {
	var st Status
	if !s.loop.Call(func() { st = s.machine.Status() }) {
		return Status{}, ErrStopped
	}
	return st, nil
}

// Conversation returns the conversation log.
func (s *Session) Conversation() ([]Entry, error) {
	var entries []Entry
	if !s.loop.Call(func() { entries = s.machine.Entries() }) {
		return nil, ErrStopped
	}
	return entries, nil
}

// TransportStats returns connection statistics.
func (s *Session) TransportStats() transport.Stats {
	return s.client.Stats()
}
