package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "partyphone",
	Short: "AI personas on a house phone system",
	Long: `partyphone runs AI characters on an Asterisk phone system.

Each persona answers its own extension and works through a schedule of
outbound calls, speaking over the line through a realtime voice backend.
Dedicated condition lines unblock scheduled calls when someone dials them.

Example:
  partyphone run --config /etc/partyphone/config.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	cobra.OnInitialize(initLogging)
}

func initLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
