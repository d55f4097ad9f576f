//go:build cgo

package audioio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

const malgoAvailable = true

// MalgoSource captures from the system microphone through miniaudio.
type MalgoSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	running  bool
	closed   bool
	streamCh chan AudioChunk
	pending  []byte

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newMalgoSource(cfg Config, logger *slog.Logger) (Source, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		logger.Debug("miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init audio context: %w", ErrPermissionDenied, err)
	}

	return &MalgoSource{
		cfg:      cfg,
		logger:   logger,
		ctx:      mctx,
		streamCh: make(chan AudioChunk, 32),
	}, nil
}

// Start opens the capture device and begins streaming chunks.
func (s *MalgoSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("malgo source closed")
	}
	if s.running {
		return nil
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = uint32(s.cfg.Channels)
	devCfg.SampleRate = uint32(s.cfg.SampleRate)
	devCfg.PeriodSizeInMilliseconds = uint32(s.cfg.BufferDuration.Milliseconds())

	if s.cfg.Device != "" {
		infos, err := s.ctx.Devices(malgo.Capture)
		if err != nil {
			return fmt.Errorf("%w: enumerate devices: %w", ErrPermissionDenied, err)
		}
		found := false
		for _, info := range infos {
			if info.Name() == s.cfg.Device {
				devCfg.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: capture device %q not found", ErrPermissionDenied, s.cfg.Device)
		}
	}

	s.streamCh = make(chan AudioChunk, 32)
	s.pending = s.pending[:0]
	out := s.streamCh

	device, err := malgo.InitDevice(s.ctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			s.onData(out, in)
		},
	})
	if err != nil {
		return fmt.Errorf("%w: open capture device: %w", ErrPermissionDenied, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("%w: start capture device: %w", ErrPermissionDenied, err)
	}

	s.device = device
	s.running = true

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("microphone opened",
		"device", s.cfg.Device,
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
	)
	return nil
}

// onData runs on the miniaudio thread. Periods are regrouped into
// BufferBytes-sized chunks so downstream sees a steady cadence.
func (s *MalgoSource) onData(out chan AudioChunk, in []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || out != s.streamCh {
		return
	}

	s.pending = append(s.pending, in...)
	size := s.cfg.BufferBytes()
	for len(s.pending) >= size {
		var chunk AudioChunk
		chunk.FromBytes(s.pending[:size], s.cfg.SampleRate, s.cfg.Channels)
		s.pending = s.pending[size:]

		select {
		case out <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		default:
			s.overruns.Add(1)
		}
	}
}

// Stop closes the capture device and the stream channel.
func (s *MalgoSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	device := s.device
	s.device = nil
	s.mu.Unlock()

	// Stop blocks until the callback returns, so it must run unlocked.
	if device != nil {
		device.Stop()
		device.Uninit()
	}

	s.mu.Lock()
	close(s.streamCh)
	s.mu.Unlock()

	s.logger.Info("microphone released", "overruns", s.overruns.Load())
	return nil
}

// Stream returns the chunk channel for the current capture.
func (s *MalgoSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the capture configuration.
func (s *MalgoSource) Config() Config { return s.cfg }

// Name returns "malgo".
func (s *MalgoSource) Name() string { return "malgo" }

// Close stops capture and frees the miniaudio context.
func (s *MalgoSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.Stop()

	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
	}
	return err
}

// Stats returns capture statistics.
func (s *MalgoSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "malgo",
	}
}

var _ SourceWithStats = (*MalgoSource)(nil)

// ListDevices returns the names of the available capture devices.
func ListDevices() ([]string, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}
