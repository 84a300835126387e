package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/labrat-lab/labrat/pkg/config"
	"github.com/labrat-lab/labrat/pkg/dut"
	"github.com/labrat-lab/labrat/pkg/query"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFiles []string
	logLevel string
	log      *logrus.Logger
)

func main() {
	log = logrus.New()
	// Stdout carries command output (query tables, get-dut-sh lines).
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := rootCmd.Execute(); err != nil {
		code := exitCode(err)
		if code == exitNoData {
			log.WithError(err).Warn("No data")
		} else {
			log.WithError(err).Error("Failed to execute command")
		}

		os.Exit(code)
	}
}

// Exit statuses. Scripts tell an empty answer apart from a failure.
const (
	exitNoData = 1
	exitFatal  = 2
)

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if isNoData(err) {
		return exitNoData
	}

	return exitFatal
}

// isNoData reports whether err means the command found nothing to report.
func isNoData(err error) bool {
	return errors.Is(err, query.ErrNoResults) ||
		errors.Is(err, dut.ErrIndexOutOfRange)
}

var rootCmd = &cobra.Command{
	Use:   "labrat",
	Short: "Test lab result index tool",
	Long: `Labrat merges run packages produced by test runs into a single result
index and answers filtered, squashed and sorted queries over it.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}

		log.SetLevel(level)

		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("labrat %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&cfgFiles, "config", nil,
		"config file path (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel,
		"log level ("+strings.Join(logLevels(), ", ")+")")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and validates the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// stringOr returns flag unless it is empty, then fallback.
func stringOr(flag, fallback string) string {
	if flag != "" {
		return flag
	}

	return fallback
}

func logLevels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}

	return levels
}
