package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Handle is one playing reply.
type Handle interface {
	// Wait blocks until playback ends. It is called exactly once.
	Wait() error
	// Stop interrupts playback without waiting for it to end. Wait
	// still returns once the output has been released.
	Stop() error
}

// Backend starts playback of an encoded payload.
type Backend interface {
	Start(ctx context.Context, payload []byte, mimeType string) (Handle, error)
}

// ExecBackend pipes each reply into a fresh player process.
type ExecBackend struct {
	cfg    Config
	logger *slog.Logger
}

// NewExecBackend creates a process-based backend.
func NewExecBackend(cfg Config, logger *slog.Logger) *ExecBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecBackend{cfg: cfg, logger: logger}
}

// Start launches the player. A missing binary or a failed launch is
// reported as ErrBlocked.
func (b *ExecBackend) Start(ctx context.Context, payload []byte, mimeType string) (Handle, error) {
	if len(b.cfg.Command) == 0 {
		return nil, fmt.Errorf("%w: no player command", ErrBlocked)
	}

	path, err := exec.LookPath(b.cfg.Command[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBlocked, err)
	}

	args := make([]string, 0, len(b.cfg.Command)-1)
	for _, a := range b.cfg.Command[1:] {
		args = append(args, strings.ReplaceAll(a, "{mime}", mimeType))
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.WaitDelay = b.cfg.StopTimeout
	h := &procHandle{cmd: cmd}
	cmd.Stderr = &h.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBlocked, err)
	}

	b.logger.Debug("player started",
		"cmd", b.cfg.Command[0],
		"pid", cmd.Process.Pid,
		"mime", mimeType,
		"bytes", len(payload),
	)
	return h, nil
}

type procHandle struct {
	cmd    *exec.Cmd
	stderr limitedBuffer
	stop   sync.Once
}

func (h *procHandle) Wait() error {
	err := h.cmd.Wait()
	if err == nil {
		return nil
	}
	if msg := strings.TrimSpace(h.stderr.String()); msg != "" {
		return fmt.Errorf("%w: %s", err, msg)
	}
	return err
}

// Stop kills the player. The goroutine blocked in Wait observes the exit.
func (h *procHandle) Stop() error {
	var err error
	h.stop.Do(func() {
		if kerr := h.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = kerr
		}
	})
	return err
}

// limitedBuffer keeps the first 4KiB of player stderr.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := 4096 - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
