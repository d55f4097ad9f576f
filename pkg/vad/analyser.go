package vad

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/teslashibe/go-tutor/pkg/audioio"
)

// Analyser turns the most recent microphone samples into a single loudness
// level in [0, 1]. It follows the usual spectrum-analyser recipe: Blackman
// window, FFT, temporal smoothing of magnitudes, decibel scaling into
// bytes, then the mean byte value divided by 255.
//
// Write is called from the capture goroutine and Level from the event
// loop, so the sample window is guarded by a mutex.
type Analyser struct {
	cfg Config

	mu     sync.Mutex
	window []float64 // ring buffer of the last FFTSize samples
	pos    int
	scaled []float64

	fft      *fourier.FFT
	blackman []float64
	frame    []float64
	coeffs   []complex128
	smoothed []float64
}

// NewAnalyser creates an analyser for cfg.FFTSize-sample windows.
func NewAnalyser(cfg Config) *Analyser {
	n := cfg.FFTSize
	a := &Analyser{
		cfg:      cfg,
		window:   make([]float64, n),
		fft:      fourier.NewFFT(n),
		blackman: make([]float64, n),
		frame:    make([]float64, n),
		smoothed: make([]float64, n/2),
	}

	const alpha = 0.16
	a0, a1, a2 := (1-alpha)/2, 0.5, alpha/2
	for i := range a.blackman {
		x := 2 * math.Pi * float64(i) / float64(n)
		a.blackman[i] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
	}
	return a
}

// Write appends the mono mix of a captured chunk to the sample window.
func (a *Analyser) Write(chunk audioio.AudioChunk) {
	mono := audioio.Downmix(chunk.Samples, chunk.Channels)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.scaled = audioio.Normalize(mono, a.scaled)
	for _, v := range a.scaled {
		a.window[a.pos] = v
		a.pos = (a.pos + 1) % len(a.window)
	}
}

// Reset clears the sample window and smoothing state.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.window {
		a.window[i] = 0
	}
	for i := range a.smoothed {
		a.smoothed[i] = 0
	}
	a.pos = 0
}

// Level computes the current loudness. Each call advances the smoothing
// state, so it should be called once per tick.
func (a *Analyser) Level() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.window)
	for i := 0; i < n; i++ {
		a.frame[i] = a.window[(a.pos+i)%n] * a.blackman[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	span := a.cfg.MaxDecibels - a.cfg.MinDecibels
	tau := a.cfg.Smoothing
	var sum float64
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeffs[k]) / float64(n)
		a.smoothed[k] = tau*a.smoothed[k] + (1-tau)*mag

		db := 20 * math.Log10(a.smoothed[k])
		b := math.Floor(255 * (db - a.cfg.MinDecibels) / span)
		sum += math.Max(0, math.Min(255, b))
	}

	return sum / float64(len(a.smoothed)) / 255
}
