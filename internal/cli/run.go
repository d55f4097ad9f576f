package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-tutor/internal/config"
	"github.com/teslashibe/go-tutor/internal/log"
	"github.com/teslashibe/go-tutor/pkg/audioio"
	"github.com/teslashibe/go-tutor/pkg/metrics"
	"github.com/teslashibe/go-tutor/pkg/recorder"
	"github.com/teslashibe/go-tutor/pkg/session"
	"github.com/teslashibe/go-tutor/pkg/web"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a tutor session",
	Long: `Connect to the tutor backend and hold a spoken conversation until
interrupted. The connection is retried after every close.`,
	RunE: runSession,
}

func init() {
	addSessionFlags(runCmd)
}

// addSessionFlags registers the flags that override session settings.
func addSessionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("server", "", "tutor backend base URL")
	f.String("backend", "", "audio backend: auto, malgo, mock")
	f.String("device", "", "capture device name (see 'tutor devices')")
	f.String("codec", "", "segment encoding: ogg-opus, wav")
	f.StringSlice("player", nil, "player command, the reply is written to its stdin")
	f.Bool("dashboard", true, "serve the status dashboard")
	f.String("dashboard-addr", "", "dashboard listen address")
}

// applySessionFlags copies the flags the user set onto cfg. Commands
// without a flag leave the setting alone.
func applySessionFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()

	str := func(name string, dst *string) error {
		if !f.Changed(name) {
			return nil
		}
		v, err := f.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}

	if err := str("server", &cfg.Session.Transport.ServerURL); err != nil {
		return err
	}
	if err := str("device", &cfg.Session.Audio.Device); err != nil {
		return err
	}
	if err := str("dashboard-addr", &cfg.Dashboard.Addr); err != nil {
		return err
	}

	var backend string
	if err := str("backend", &backend); err != nil {
		return err
	}
	if backend != "" {
		cfg.Session.Audio.Backend = audioio.Backend(backend)
	}

	var codec string
	if err := str("codec", &codec); err != nil {
		return err
	}
	if codec != "" {
		cfg.Session.Recorder.Codec = recorder.Codec(codec)
	}

	if f.Changed("player") {
		player, err := f.GetStringSlice("player")
		if err != nil {
			return err
		}
		cfg.Session.Playback.Command = player
	}
	if f.Changed("dashboard") {
		enabled, err := f.GetBool("dashboard")
		if err != nil {
			return err
		}
		cfg.Dashboard.Enabled = enabled
	}
	return nil
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := log.Init(cfg.LogLevel)
	m := metrics.New(cfg.MetricsNamespace)

	observers := session.Observers{session.LogObserver{Logger: log.Component("session")}}

	var dashboard *web.Server
	if cfg.Dashboard.Enabled {
		dashboard = web.NewServer(cfg.Dashboard, log.Component("web"), web.WithMetrics(m))
		observers = append(observers, dashboard)
	}

	sess, err := session.New(cfg.Session, observers, m, logger)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	if dashboard != nil {
		dashboard.SetControls(sess)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting tutor session",
		"server", sess.URL(),
		"backend", cfg.Session.Audio.Backend,
		"codec", cfg.Session.Recorder.Codec,
		"dashboard", cfg.Dashboard.Enabled,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.Run(ctx) })
	if dashboard != nil {
		g.Go(func() error { return dashboard.Run(ctx) })
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	st := sess.TransportStats()
	logger.Info("session ended", "opens", st.Opens, "frames_in", st.FramesIn, "frames_out", st.FramesOut)
	return nil
}
