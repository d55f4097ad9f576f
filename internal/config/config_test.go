package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-tutor/pkg/audioio"
	"github.com/teslashibe/go-tutor/pkg/recorder"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Session.Transport.ReconnectDelay != 3*time.Second {
		t.Errorf("reconnect delay = %v, want 3s", cfg.Session.Transport.ReconnectDelay)
	}
	if cfg.Session.Recorder.MinSpeech != 300*time.Millisecond {
		t.Errorf("min speech = %v, want 300ms", cfg.Session.Recorder.MinSpeech)
	}
}

func TestDecodeOverlaysDefaults(t *testing.T) {
	data := []byte(`
log_level: debug
transport:
  server_url: https://tutor.example.com
  reconnect_delay: 5s
vad:
  silence_delay: 1500ms
recorder:
  codec: wav
dashboard:
  enabled: false
`)
	cfg := DefaultConfig()
	if err := Decode(data, cfg); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if cfg.Session.Transport.ServerURL != "https://tutor.example.com" {
		t.Errorf("server url = %q", cfg.Session.Transport.ServerURL)
	}
	if cfg.Session.Transport.ReconnectDelay != 5*time.Second {
		t.Errorf("reconnect delay = %v", cfg.Session.Transport.ReconnectDelay)
	}
	if cfg.Session.VAD.SilenceDelay != 1500*time.Millisecond {
		t.Errorf("silence delay = %v", cfg.Session.VAD.SilenceDelay)
	}
	if cfg.Session.Recorder.Codec != recorder.CodecWAV {
		t.Errorf("codec = %q", cfg.Session.Recorder.Codec)
	}
	if cfg.Dashboard.Enabled {
		t.Error("dashboard should be disabled")
	}
	// Untouched fields keep their defaults.
	if cfg.Session.Transport.Path != "/ws/session" {
		t.Errorf("path = %q", cfg.Session.Transport.Path)
	}
	if cfg.Session.VAD.SpeechThreshold != 0.1 {
		t.Errorf("speech threshold = %v", cfg.Session.VAD.SpeechThreshold)
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	err := Decode([]byte("transprot:\n  server_url: x\n"), DefaultConfig())
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestDecodeEmpty(t *testing.T) {
	if err := Decode(nil, DefaultConfig()); err != nil {
		t.Errorf("Decode(nil) = %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"TUTOR_SERVER_URL":       "ws://10.0.0.2:9000",
		"TUTOR_AUDIO_BACKEND":    "mock",
		"TUTOR_SILENCE_DELAY":    "1s",
		"TUTOR_PLAYER":           "mpv --no-video -",
		"TUTOR_DASHBOARD":        "false",
		"TUTOR_SPEECH_THRESHOLD": "0.2",
		"TUTOR_LOG_LEVEL":        "   ",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := ApplyEnv(cfg, lookup); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if cfg.Session.Transport.ServerURL != "ws://10.0.0.2:9000" {
		t.Errorf("server url = %q", cfg.Session.Transport.ServerURL)
	}
	if cfg.Session.Audio.Backend != audioio.BackendMock {
		t.Errorf("backend = %q", cfg.Session.Audio.Backend)
	}
	if cfg.Session.VAD.SilenceDelay != time.Second {
		t.Errorf("silence delay = %v", cfg.Session.VAD.SilenceDelay)
	}
	if got := strings.Join(cfg.Session.Playback.Command, " "); got != "mpv --no-video -" {
		t.Errorf("player = %q", got)
	}
	if cfg.Dashboard.Enabled {
		t.Error("dashboard should be disabled")
	}
	if cfg.Session.VAD.SpeechThreshold != 0.2 {
		t.Errorf("speech threshold = %v", cfg.Session.VAD.SpeechThreshold)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("blank variable overrode log level: %q", cfg.LogLevel)
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"TUTOR_RECONNECT_DELAY", "soon"},
		{"TUTOR_DASHBOARD", "maybe"},
		{"TUTOR_SILENCE_THRESHOLD", "low"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			lookup := func(k string) (string, bool) {
				if k == tt.key {
					return tt.value, true
				}
				return "", false
			}
			err := ApplyEnv(DefaultConfig(), lookup)
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("ApplyEnv() = %v, want error naming %s", err, tt.key)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tutor.yaml")
	if err := os.WriteFile(path, []byte("transport:\n  server_url: http://files.example:8000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TUTOR_SERVER_URL", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.Transport.ServerURL != "http://files.example:8000" {
		t.Errorf("server url = %q", cfg.Session.Transport.ServerURL)
	}
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tutor.yaml")
	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TUTOR_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()

	if err := LoadDotEnv(filepath.Join(dir, "absent.env")); err != nil {
		t.Errorf("missing .env should be ignored: %v", err)
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TUTOR_AUDIO_DEVICE=USB Mic\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TUTOR_AUDIO_DEVICE", "")
	os.Unsetenv("TUTOR_AUDIO_DEVICE")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("TUTOR_AUDIO_DEVICE"); got != "USB Mic" {
		t.Errorf("TUTOR_AUDIO_DEVICE = %q", got)
	}
}

func TestValidateRejectsBadLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "loud"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown log level")
	}
}
