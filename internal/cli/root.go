package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/wphunter/internal/config"
	"github.com/ppiankov/wphunter/internal/scanconfig"
)

const (
	// Exit codes
	ExitOK           = 0 // Success
	ExitPolicyFail   = 1 // Finished scan violates the policy
	ExitInvalidInput = 2 // Invalid flags, config or arguments
	ExitRuntimeError = 3 // I/O, network, storage or runtime error
)

var (
	// Global config instance
	cfg *config.Config

	// buildVersion is set from main
	buildVersion = "dev"

	// Global flags
	configFile string
	verbose    bool
	debug      bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "wphunter",
	Short: "WPHunter - WordPress plugin and theme risk scanner",
	Long: `WPHunter walks the public WordPress.org plugin and theme catalogs, optionally
downloads and statically inspects source code, and assigns each target a
heuristic risk score. Sessions and results are stored in a local database for
later browsing, diffing and export.

The score is a risk signal, not proof of a vulnerability.

Quick start:
  wphunter doctor
  wphunter scan --pages 3 --smart
  wphunter sessions
  wphunter results <session-id> --tui

Other commands:
  wphunter scan --abandoned --deep-analysis --output report.html
  wphunter explain <session-id> <slug>
  wphunter diff
  wphunter export <session-id> --format xlsx --output risks.xlsx
  wphunter serve --listen 127.0.0.1:8080`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return &ValidationError{Message: fmt.Sprintf("failed to load config: %v", err)}
		}

		// Override config with flags if provided
		if verbose {
			cfg.Verbose = true
		}
		if debug {
			cfg.Debug = true
		}

		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error
		os.Exit(HandleError(err))
	}
}

// SetVersion records the build version reported by the version command
func SetVersion(v string) {
	if v != "" {
		buildVersion = v
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default: wphunter.yaml in ., $HOME or $XDG_CONFIG_HOME/wphunter)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"debug mode (very verbose)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd shows version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("WPHunter %s\n", buildVersion)
		fmt.Println("WordPress plugin and theme risk scanner")
	},
}

// HandleError determines the appropriate exit code for an error
func HandleError(err error) int {
	if err == nil {
		return ExitOK
	}

	var validationErr *ValidationError
	var thresholdErr *ThresholdExceededError
	switch {
	case errors.As(err, &validationErr):
		return ExitInvalidInput
	case errors.As(err, &thresholdErr):
		return ExitPolicyFail
	case errors.Is(err, scanconfig.ErrInvalidConfig):
		return ExitInvalidInput
	default:
		return ExitRuntimeError
	}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ThresholdExceededError represents a failed policy gate
type ThresholdExceededError struct {
	Violations int
	Details    []string
}

func (e *ThresholdExceededError) Error() string {
	if len(e.Details) == 1 {
		return fmt.Sprintf("policy failed: %s", e.Details[0])
	}
	return fmt.Sprintf("policy failed with %d violations", e.Violations)
}

// newLogger builds the structured logger handed to the pipeline components
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if cfg != nil && cfg.Verbose {
		level = slog.LevelInfo
	}
	if cfg != nil && cfg.Debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// logVerbose prints a message if verbose mode is enabled
func logVerbose(format string, args ...interface{}) {
	if cfg != nil && cfg.Verbose {
		fmt.Fprintf(os.Stderr, "[INFO] "+format+"\n", args...)
	}
}

// logDebug prints a message if debug mode is enabled
func logDebug(format string, args ...interface{}) {
	if cfg != nil && cfg.Debug {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// logError prints an error message
func logError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[ERROR] "+format+"\n", args...)
}
