package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-tutor/internal/httpc"
	"github.com/teslashibe/go-tutor/pkg/transport"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the tutor backend is reachable",
	RunE:  runHealth,
}

func init() {
	healthCmd.Flags().String("server", "", "tutor backend base URL")
	healthCmd.Flags().Duration("timeout", 5*time.Second, "request timeout")
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	url, err := transport.HealthURL(cfg.Session.Transport.ServerURL)
	if err != nil {
		return err
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	start := time.Now()
	var body map[string]any
	if err := httpc.GetJSON(ctx, nil, url, &body); err != nil {
		return fmt.Errorf("backend unhealthy: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s ok (%s)\n", url, time.Since(start).Round(time.Millisecond))
	if status, ok := body["status"]; ok {
		fmt.Fprintf(out, "  status: %v\n", status)
	}
	session, err := transport.EndpointURL(cfg.Session.Transport.ServerURL, cfg.Session.Transport.Path)
	if err == nil {
		fmt.Fprintf(out, "  session endpoint: %s\n", session)
	}
	return nil
}
