// gocart listens to the GCN Kafka igwn.gwalert stream and archives gravitational-wave
// alerts together with their resampled sky maps.
//
// Usage:
//
//	gocart init
//	gocart listen [-t]
//	gocart echo <daysAgo>
//	gocart status
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/afikmenashe/gocart/internal/config"
	"github.com/afikmenashe/gocart/pkg/shared"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var (
	version      = "dev"
	settingsPath string
	verbose      bool
)

func main() {
	defaultPath, err := config.DefaultPath()
	if err != nil {
		defaultPath = "gocart.yaml"
	}

	rootCmd := &cobra.Command{
		Use:   "gocart",
		Short: "Archive gravitational-wave alerts from GCN Kafka",
		Long: `gocart subscribes to the LIGO/Virgo/KAGRA alert stream on GCN Kafka,
filters the alerts and archives the ones worth keeping with their sky maps.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(verbose)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&settingsPath, "settings", "s", shared.GetEnvOrDefault("GOCART_SETTINGS", defaultPath), "path to the settings file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(listenCmd())
	rootCmd.AddCommand(echoCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		os.Exit(1)
	}
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
}
