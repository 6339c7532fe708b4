package main

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/internal/env"
)

var rootCmd = &cobra.Command{
	Use:   "fpattend",
	Short: "Fingerprint attendance device service",
	Long: `fpattend drives a serial fingerprint sensor and links its templates to
student records. "serve" runs the HTTP/websocket API; the other commands
talk to the sensor or the registry directly.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setLogLevel(firstNonEmpty(rootLogLevel, env.String("LOG_LEVEL", ""), "info"))
	},
}

var (
	rootConfigPath string
	rootLogLevel   string
	rootDBPath     string
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "YAML config file (env vars still override it)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Log level overriding $LOG_LEVEL (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&rootDBPath, "db", "", "SQLite database path overriding $FPATTEND_DB_PATH")
	rootCmd.AddCommand(
		newServeCmd(),
		newDeviceCmd(),
		newPortsCmd(),
		newStudentCmd(),
	)
	_ = env.Ensure()
}

func setLogLevel(name string) error {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", name)
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("fpattend command failed")
	}
}
