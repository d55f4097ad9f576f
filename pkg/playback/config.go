// Package playback plays the tutor's spoken replies through an external
// player process, one reply at a time.
package playback

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBlocked means playback could not start, for example because the
	// player binary is missing. It is logged, not surfaced.
	ErrBlocked = errors.New("playback: output blocked")

	// ErrFailed means the player started but did not finish cleanly.
	ErrFailed = errors.New("playback: playback failed")
)

// Config holds player settings.
type Config struct {
	// Command is the player argv. The payload is written to its stdin.
	// The token {mime} in any argument is replaced with the reply's
	// MIME type.
	// Default: ffplay -nodisp -autoexit -loglevel error -i -
	Command []string `yaml:"command" json:"command"`

	// StopTimeout bounds how long Wait lingers on the player's pipes
	// after the process has exited or been killed.
	// Default: 2s
	StopTimeout time.Duration `yaml:"stop_timeout" json:"stop_timeout"`
}

// DefaultConfig returns the default player configuration.
func DefaultConfig() Config {
	return Config{
		Command:     []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "error", "-i", "-"},
		StopTimeout: 2 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Command) == 0 || c.Command[0] == "" {
		return fmt.Errorf("command must not be empty")
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop_timeout must be positive")
	}
	return nil
}
