// Package transport maintains the WebSocket session with the tutor backend,
// reconnecting after every close.
package transport

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds connection settings.
type Config struct {
	// ServerURL is the backend base URL (http, https, ws or wss).
	// Default: "http://localhost:8000"
	ServerURL string `yaml:"server_url" json:"server_url"`

	// Path is the session endpoint path.
	// Default: "/ws/session"
	Path string `yaml:"path" json:"path"`

	// ReconnectDelay is the fixed wait between a close and the next attempt.
	// Default: 3s
	ReconnectDelay time.Duration `yaml:"reconnect_delay" json:"reconnect_delay"`

	// HandshakeTimeout bounds the opening handshake.
	// Default: 10s
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`

	// WriteTimeout bounds a single frame write.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// PingInterval is how often keepalive pings are sent. Zero disables them.
	// Default: 30s
	PingInterval time.Duration `yaml:"ping_interval" json:"ping_interval"`

	// ReadTimeout closes a connection that has been silent, pongs included,
	// for this long. Zero disables it.
	// Default: 120s
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// ReadLimit caps inbound frame size in bytes. Spoken replies are large.
	// Default: 32MiB
	ReadLimit int64 `yaml:"read_limit" json:"read_limit"`
}

// DefaultConfig returns the default connection configuration.
func DefaultConfig() Config {
	return Config{
		ServerURL:        "http://localhost:8000",
		Path:             "/ws/session",
		ReconnectDelay:   3000 * time.Millisecond,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      120 * time.Second,
		ReadLimit:        32 << 20,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if _, err := EndpointURL(c.ServerURL, c.Path); err != nil {
		return err
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect_delay must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}
	if c.PingInterval > 0 && c.ReadTimeout > 0 && c.ReadTimeout <= c.PingInterval {
		return fmt.Errorf("read_timeout (%v) must exceed ping_interval (%v)", c.ReadTimeout, c.PingInterval)
	}
	return nil
}

// EndpointURL derives the WebSocket URL from a base URL: http becomes ws,
// https becomes wss, and path replaces any path on the base.
func EndpointURL(base, path string) (string, error) {
	return rewriteURL(base, "ws", "wss", path)
}

// HealthURL derives the backend's HTTP health check URL from a base URL.
func HealthURL(base string) (string, error) {
	return rewriteURL(base, "http", "https", "/health")
}

func rewriteURL(base, plain, secure, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", base, err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = plain
	case "https", "wss":
		u.Scheme = secure
	default:
		return "", fmt.Errorf("invalid server url %q: unsupported scheme %q", base, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server url %q: missing host", base)
	}

	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
