// Package recorder accumulates microphone audio into speech segments,
// encodes finished segments and hands them to the transport.
package recorder

import (
	"fmt"
	"time"
)

// Codec selects the segment container.
type Codec string

const (
	// CodecOggOpus encodes segments as Opus in an Ogg container.
	CodecOggOpus Codec = "ogg-opus"
	// CodecWAV encodes segments as uncompressed PCM16 WAV.
	CodecWAV Codec = "wav"
)

// Config holds recorder settings.
type Config struct {
	// MinSpeech is the shortest segment that is sent. Shorter segments are
	// treated as noise bursts and discarded.
	// Default: 300ms
	MinSpeech time.Duration `yaml:"min_speech" json:"min_speech"`

	// Codec is the segment encoding.
	// Default: "ogg-opus"
	Codec Codec `yaml:"codec" json:"codec"`

	// Bitrate is the Opus target bitrate in bits per second.
	// Default: 32000
	Bitrate int `yaml:"bitrate" json:"bitrate"`
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() Config {
	return Config{
		MinSpeech: 300 * time.Millisecond,
		Codec:     CodecOggOpus,
		Bitrate:   32000,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.MinSpeech < 0 {
		return fmt.Errorf("min_speech must not be negative")
	}
	switch c.Codec {
	case CodecOggOpus:
		if c.Bitrate < 6000 || c.Bitrate > 510000 {
			return fmt.Errorf("bitrate %d outside opus range", c.Bitrate)
		}
	case CodecWAV:
	default:
		return fmt.Errorf("unknown codec %q", c.Codec)
	}
	return nil
}
