package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-tutor/internal/log"
	"github.com/teslashibe/go-tutor/pkg/loopback"
)

var loopbackCmd = &cobra.Command{
	Use:   "loopback",
	Short: "Serve a local stand-in for the tutor backend",
	Long: `Serve the session protocol locally. Every spoken turn is answered with
a transcript, a canned response and the caller's own audio, so the client
can be tried without the real backend:

  tutor loopback &
  tutor run --server http://127.0.0.1:8000`,
	RunE: runLoopback,
}

func init() {
	addLoopbackFlags(loopbackCmd)
}

func addLoopbackFlags(cmd *cobra.Command) {
	cmd.Flags().String("addr", "", "listen address")
	cmd.Flags().Duration("reply-delay", 0, "simulated thinking time")
	cmd.Flags().Bool("echo", true, "send the caller's audio back as the reply")
}

// applyLoopbackFlags copies the loopback flags the user set onto lb.
func applyLoopbackFlags(cmd *cobra.Command, lb *loopback.Config) error {
	f := cmd.Flags()
	if f.Changed("addr") {
		addr, err := f.GetString("addr")
		if err != nil {
			return err
		}
		lb.Addr = addr
	}
	if f.Changed("reply-delay") {
		delay, err := f.GetDuration("reply-delay")
		if err != nil {
			return err
		}
		lb.ReplyDelay = delay
	}
	if f.Changed("echo") {
		echo, err := f.GetBool("echo")
		if err != nil {
			return err
		}
		lb.Echo = echo
	}
	return nil
}

func runLoopback(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	lb := cfg.Loopback
	if err := applyLoopbackFlags(cmd, &lb); err != nil {
		return err
	}
	if err := lb.Validate(); err != nil {
		return fmt.Errorf("invalid loopback config: %w", err)
	}

	log.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = loopback.New(lb, log.Component("loopback")).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
