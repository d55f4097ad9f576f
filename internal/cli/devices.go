package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-tutor/pkg/audioio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio backends and capture devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Backends:")
		for _, b := range audioio.AvailableBackends() {
			fmt.Fprintf(out, "  %s\n", b)
		}

		devices, err := audioio.ListDevices()
		if err != nil {
			return fmt.Errorf("listing capture devices: %w", err)
		}
		fmt.Fprintln(out, "Capture devices:")
		if len(devices) == 0 {
			fmt.Fprintln(out, "  (none)")
		}
		for _, d := range devices {
			fmt.Fprintf(out, "  %s\n", d)
		}
		return nil
	},
}
