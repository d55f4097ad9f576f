// Package cli defines the cobra commands of the tutor binary.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-tutor/internal/config"
)

var (
	configPath string
	envFile    string
	logLevel   string
	version    = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "tutor",
	Short: "Voice client for the language tutor",
	Long: `tutor listens on the microphone, sends each spoken turn to the tutor
backend over a websocket and plays the spoken replies.

With no subcommand it runs a session.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runSession,
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $"+config.EnvConfigFile+")")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	addSessionFlags(rootCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(loopbackCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig resolves the configuration in order: defaults, config file,
// TUTOR_* environment (after the dotenv file), then command line flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := applySessionFlags(cmd, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
