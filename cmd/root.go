// Package cmd wires the strata CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/strata-etl/strata/internal/config"
)

var (
	cfgPath string
	cfg     config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to YAML config (defaults apply when omitted)")
}

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Strata: incremental medallion pipeline for GitHub Archive events",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgPath != "" {
			loaded, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			cfg = loaded
		} else {
			cfg = config.Default()
		}

		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
		}
		logrus.SetLevel(level)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
