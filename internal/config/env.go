package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teslashibe/go-tutor/pkg/audioio"
	"github.com/teslashibe/go-tutor/pkg/recorder"
)

// LookupFunc reports the value of an environment variable.
type LookupFunc func(key string) (string, bool)

// envVars maps each supported variable to the field it sets.
var envVars = []struct {
	key   string
	apply func(c *Config, v string) error
}{
	{"TUTOR_LOG_LEVEL", func(c *Config, v string) error { c.LogLevel = v; return nil }},
	{"TUTOR_SERVER_URL", func(c *Config, v string) error { c.Session.Transport.ServerURL = v; return nil }},
	{"TUTOR_RECONNECT_DELAY", func(c *Config, v string) error { return setDuration(&c.Session.Transport.ReconnectDelay, v) }},
	{"TUTOR_AUDIO_BACKEND", func(c *Config, v string) error { c.Session.Audio.Backend = audioio.Backend(v); return nil }},
	{"TUTOR_AUDIO_DEVICE", func(c *Config, v string) error { c.Session.Audio.Device = v; return nil }},
	{"TUTOR_SILENCE_DELAY", func(c *Config, v string) error { return setDuration(&c.Session.VAD.SilenceDelay, v) }},
	{"TUTOR_SPEECH_THRESHOLD", func(c *Config, v string) error { return setFloat(&c.Session.VAD.SpeechThreshold, v) }},
	{"TUTOR_SILENCE_THRESHOLD", func(c *Config, v string) error { return setFloat(&c.Session.VAD.SilenceThreshold, v) }},
	{"TUTOR_CODEC", func(c *Config, v string) error { c.Session.Recorder.Codec = recorder.Codec(v); return nil }},
	{"TUTOR_PLAYER", func(c *Config, v string) error { c.Session.Playback.Command = strings.Fields(v); return nil }},
	{"TUTOR_DASHBOARD", func(c *Config, v string) error { return setBool(&c.Dashboard.Enabled, v) }},
	{"TUTOR_DASHBOARD_ADDR", func(c *Config, v string) error { c.Dashboard.Addr = v; return nil }},
	{"TUTOR_LOOPBACK_ADDR", func(c *Config, v string) error { c.Loopback.Addr = v; return nil }},
}

// ApplyEnv overlays TUTOR_* variables onto cfg. Empty values are ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	for _, ev := range envVars {
		v, ok := lookup(ev.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := ev.apply(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s: %w", ev.key, err)
		}
	}
	return nil
}

// EnvKeys returns the supported environment variables.
func EnvKeys() []string {
	keys := make([]string, len(envVars))
	for i, ev := range envVars {
		keys[i] = ev.key
	}
	return keys
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func setFloat(dst *float64, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}
