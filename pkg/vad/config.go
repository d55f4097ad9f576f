// Package vad detects when the user starts and stops speaking from a
// per-frame loudness level.
package vad

import (
	"fmt"
	"time"
)

// Config holds detector and analyser settings.
type Config struct {
	// SpeechThreshold is the level above which speech is assumed.
	// Default: 0.1
	SpeechThreshold float64 `yaml:"speech_threshold" json:"speech_threshold"`

	// SilenceThreshold is the level below which the silence timer runs.
	// Levels between the two thresholds change nothing.
	// Default: 0.05
	SilenceThreshold float64 `yaml:"silence_threshold" json:"silence_threshold"`

	// SilenceDelay is how long the level must stay below SilenceThreshold
	// before the segment ends.
	// Default: 2s
	SilenceDelay time.Duration `yaml:"silence_delay" json:"silence_delay"`

	// TickInterval is the sampling cadence, roughly one display frame.
	// Default: 16ms
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval"`

	// FFTSize is the analyser window length in samples.
	// Default: 256
	FFTSize int `yaml:"fft_size" json:"fft_size"`

	// Smoothing blends each spectrum with the previous one (0 to 1).
	// Default: 0.8
	Smoothing float64 `yaml:"smoothing" json:"smoothing"`

	// MinDecibels and MaxDecibels bound the byte-scaled magnitude range.
	// Default: -100, -30
	MinDecibels float64 `yaml:"min_decibels" json:"min_decibels"`
	MaxDecibels float64 `yaml:"max_decibels" json:"max_decibels"`
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		SpeechThreshold:  0.1,
		SilenceThreshold: 0.05,
		SilenceDelay:     2000 * time.Millisecond,
		TickInterval:     16 * time.Millisecond,
		FFTSize:          256,
		Smoothing:        0.8,
		MinDecibels:      -100,
		MaxDecibels:      -30,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SilenceThreshold < 0 || c.SpeechThreshold > 1 {
		return fmt.Errorf("thresholds must be within [0, 1]")
	}
	if c.SilenceThreshold > c.SpeechThreshold {
		return fmt.Errorf("silence_threshold (%v) must not exceed speech_threshold (%v)",
			c.SilenceThreshold, c.SpeechThreshold)
	}
	if c.SilenceDelay <= 0 {
		return fmt.Errorf("silence_delay must be positive")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive")
	}
	if c.FFTSize < 32 || c.FFTSize&(c.FFTSize-1) != 0 {
		return fmt.Errorf("fft_size must be a power of two >= 32, got %d", c.FFTSize)
	}
	if c.Smoothing < 0 || c.Smoothing >= 1 {
		return fmt.Errorf("smoothing must be within [0, 1)")
	}
	if c.MinDecibels >= c.MaxDecibels {
		return fmt.Errorf("min_decibels must be below max_decibels")
	}
	return nil
}
