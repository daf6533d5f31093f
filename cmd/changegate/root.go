package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/changegate/changegate/config"
)

var (
	version = "0.1.0"
	cfgPath string
	rootCmd = &cobra.Command{
		Use:   "changegate",
		Short: "Change Admission Engine",
		Long: `Changegate - Change Admission Engine

Changegate decides whether infrastructure changes may apply. Every
proposal is rated for risk, checked against policy, and escalated to
the right action: apply, notify, require approval, or block.

Precious resources get a hard gate on delete and destroy, with
break-glass overrides for emergencies. Everything lands on a
hash-chained audit trail.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// init sets up the root command
func init() {
	rootCmd.SetVersionTemplate(`Changegate {{.Version}} - Change Admission Engine
`)
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Config file (default: built-in defaults)")
}

// loadConfig reads the --config file, or falls back to defaults
func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadConfig(cfgPath)
	}
	return config.Default()
}

// setupLogging applies the configured level to the global logger
func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
