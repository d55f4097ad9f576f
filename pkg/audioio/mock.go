package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a synthetic microphone for tests and hardware-less runs.
// It produces silence, a sine tone or white noise, and the amplitude can be
// changed while running to simulate a speaker starting and stopping.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk
	stopCh   chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64

	// amplitude is stored as math.Float64bits so SetAmplitude is lock-free.
	amplitude atomic.Uint64
	frequency float64 // Hz, 0 = white noise when amplitude > 0
	phase     float64
	rng       *rand.Rand
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.SetAmplitude(amplitude)
	}
}

// WithNoise configures the mock to generate white noise.
// Broadband noise reads as speech-like energy on a spectrum analyser.
func WithNoise(amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = 0
		m.SetAmplitude(amplitude)
	}
}

// NewMockSource creates a new mock audio source. It is silent by default.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioChunk, 10),
		stopCh:   make(chan struct{}),
		rng:      rand.New(rand.NewSource(1)),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// SetAmplitude changes the output amplitude (0.0 to 1.0) while running.
func (m *MockSource) SetAmplitude(a float64) {
	a = math.Max(0, math.Min(1, a))
	m.amplitude.Store(math.Float64bits(a))
}

// Amplitude returns the current output amplitude.
func (m *MockSource) Amplitude() float64 {
	return math.Float64frombits(m.amplitude.Load())
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.streamCh = make(chan AudioChunk, 10)

	go m.generateLoop(ctx, m.stopCh, m.streamCh)

	m.logger.Info("mock audio source started",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
		"amplitude", m.Amplitude(),
	)

	return nil
}

// generateLoop owns out and closes it on exit.
func (m *MockSource) generateLoop(ctx context.Context, stop <-chan struct{}, out chan<- AudioChunk) {
	defer close(out)

	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.markStopped(stop)
			return
		case <-stop:
			return
		case <-ticker.C:
			chunk := m.generateChunk()
			select {
			case out <- chunk:
				m.chunksRead.Add(1)
				m.samplesRead.Add(int64(len(chunk.Samples)))
			default:
				m.overruns.Add(1)
				m.logger.Debug("mock source: buffer full, dropping chunk")
			}
		}
	}
}

func (m *MockSource) markStopped(stop <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running && m.stopCh == stop {
		m.running = false
		close(m.stopCh)
	}
}

func (m *MockSource) generateChunk() AudioChunk {
	frames := m.cfg.BufferSize()
	samples := make([]int16, frames*m.cfg.Channels)
	amp := m.Amplitude()

	if amp > 0 {
		for i := 0; i < frames; i++ {
			var v float64
			if m.frequency > 0 {
				v = amp * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate))
				m.phase++
				if m.phase >= float64(m.cfg.SampleRate) {
					m.phase = 0
				}
			} else {
				v = amp * (m.rng.Float64()*2 - 1)
			}
			s := int16(v * 32767)
			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = s
			}
		}
	}

	return AudioChunk{
		Samples:    samples,
		SampleRate: m.cfg.SampleRate,
		Channels:   m.cfg.Channels,
	}
}

// Stop halts audio generation. The stream channel is closed shortly after.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false
	close(m.stopCh)

	m.logger.Info("mock audio source stopped")

	return nil
}

// Read reads the next audio chunk.
func (m *MockSource) Read(ctx context.Context) (AudioChunk, error) {
	stream := m.Stream()
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-stream:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (m *MockSource) Stream() <-chan AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCh
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		ChunksRead:  m.chunksRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    m.overruns.Load(),
		Running:     running,
		Backend:     "mock",
	}
}

// Ensure MockSource implements SourceWithStats.
var _ SourceWithStats = (*MockSource)(nil)
