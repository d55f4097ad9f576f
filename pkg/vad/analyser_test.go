package vad

import (
	"math"
	"math/rand"
	"testing"

	"github.com/teslashibe/go-tutor/pkg/audioio"
)

func noiseChunk(rng *rand.Rand, n int, amp float64) audioio.AudioChunk {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(amp * (rng.Float64()*2 - 1) * 32767)
	}
	return audioio.AudioChunk{Samples: s, SampleRate: 16000, Channels: 1}
}

func TestAnalyserSilenceIsZero(t *testing.T) {
	a := NewAnalyser(DefaultConfig())
	a.Write(audioio.AudioChunk{Samples: make([]int16, 512), SampleRate: 16000, Channels: 1})
	if got := a.Level(); got != 0 {
		t.Errorf("Level() = %v, want 0", got)
	}
}

func TestAnalyserLoudNoiseCrossesSpeechThreshold(t *testing.T) {
	cfg := DefaultConfig()
	a := NewAnalyser(cfg)
	rng := rand.New(rand.NewSource(7))

	var level float64
	for i := 0; i < 10; i++ {
		a.Write(noiseChunk(rng, 320, 0.5))
		level = a.Level()
	}
	if level <= cfg.SpeechThreshold || level > 1 {
		t.Errorf("Level() = %v, want within (%v, 1]", level, cfg.SpeechThreshold)
	}
}

func TestAnalyserFaintNoiseStaysBelowSilenceThreshold(t *testing.T) {
	cfg := DefaultConfig()
	a := NewAnalyser(cfg)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 10; i++ {
		a.Write(noiseChunk(rng, 320, 0.00005))
		if level := a.Level(); level >= cfg.SilenceThreshold {
			t.Fatalf("Level() = %v, want below %v", level, cfg.SilenceThreshold)
		}
	}
}

func TestAnalyserSmoothingDecays(t *testing.T) {
	a := NewAnalyser(DefaultConfig())
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		a.Write(noiseChunk(rng, 320, 0.5))
		a.Level()
	}
	loud := a.Level()

	a.Write(audioio.AudioChunk{Samples: make([]int16, 256), SampleRate: 16000, Channels: 1})
	first := a.Level()
	if first <= 0 || first >= loud {
		t.Errorf("first quiet level %v should decay from %v without dropping to 0", first, loud)
	}

	var last float64
	for i := 0; i < 200; i++ {
		last = a.Level()
	}
	if last != 0 {
		t.Errorf("level after long silence = %v, want 0", last)
	}

	a.Reset()
	if got := a.Level(); got != 0 || math.IsNaN(got) {
		t.Errorf("level after Reset = %v", got)
	}
}
