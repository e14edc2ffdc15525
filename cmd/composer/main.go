// Command composer synthesizes dialogue scripts from the command line using
// the same pipeline as the HTTP service.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lexiqai/voice-composer/internal/config"
	"github.com/lexiqai/voice-composer/internal/observability"
)

var (
	catalogPath string
	logLevel    string

	rootCmd = &cobra.Command{
		Use:           "composer",
		Short:         "Compose multi-voice speech from dialogue scripts",
		SilenceUsage:  true,  // Don't print usage on error
		SilenceErrors: false, // Do print errors
		Long: `composer parses dialogue markup such as "[Jenny:cheerful]: Hello!",
plans one synthesis job per line and stitches the synthesized audio into a
single file.

Backends and defaults come from the same environment variables as the
service; see .env.example.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			observability.InitLoggerTo(os.Stderr, logLevel, true)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog",
		config.GetEnv("VOICE_CATALOG_PATH", "voices.yaml"), "voice catalog file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}
