// Package cli implements the storyloop command-line interface.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/storyloop/internal/config"
	apperrors "github.com/randalmurphal/storyloop/internal/errors"
)

var (
	projectDir string
	verbose    bool
	jsonOut    bool
)

// flagBindings maps persistent flag names to config paths. Viper only sees
// flags; STORYLOOP_* variables are applied once, by config.Load.
var flagBindings = map[string]string{
	"provider":       "provider",
	"max-iterations": "max_iterations",
	"verify-command": "verify.command",
	"addr":           "server.addr",
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "storyloop",
	Short: "Drive a coding agent through PRD stories until they verify",
	Long: `storyloop turns a product description into a PRD of user stories and
drives a coding agent through them one at a time. Each attempt runs in an
isolated git worktree and is checked by the project's test command; failures
are fed back to the agent until the story passes or the retry budget is spent.

Quick start:
  storyloop prd generate T-1 "Add a login page"   Write a PRD with the wizard
  storyloop run T-1                               Execute every story
  storyloop serve                                 Start the HTTP control surface`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(cmd.ErrOrStderr(), verbose, jsonOut)
	},
}

// Execute runs the root command and prints any error.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		PrintError(os.Stderr, err)
	}
	return err
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&projectDir, "project", "C", ".", "project directory")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.BoolVar(&jsonOut, "json", false, "log as JSON")
	pf.String("provider", "", "agent provider (claude, codex, gemini)")
	pf.Int("max-iterations", 0, "retries per story after the first attempt")
	pf.String("verify-command", "", "verification command run after each attempt")
	pf.String("addr", "", "listen address for serve")

	for flag, key := range flagBindings {
		_ = viper.BindPFlag(key, pf.Lookup(flag))
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newPRDCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newWorkspaceCmd())
	rootCmd.AddCommand(newProvidersCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// setupLogging installs the process-wide slog handler.
func setupLogging(w io.Writer, verbose, asJSON bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if asJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// loadConfig loads the project config and applies flag overrides. A flag
// given explicitly beats the matching environment variable and is recorded
// as a flag source.
func loadConfig(cmd *cobra.Command) (*config.TrackedConfig, error) {
	tc, err := config.Load(projectDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	flags := cmd.Flags()
	for flag, key := range flagBindings {
		f := flags.Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if !config.ApplyOverride(tc, key, viper.GetString(key), config.SourceFlag) {
			return nil, apperrors.ErrConfigInvalid("--"+flag, fmt.Sprintf("cannot use %q", f.Value.String()))
		}
	}
	if err := tc.Config.Validate(); err != nil {
		field, reason, ok := strings.Cut(err.Error(), ": ")
		if !ok {
			field, reason = "config", err.Error()
		}
		return nil, apperrors.ErrConfigInvalid(field, reason).WithCause(err)
	}
	return tc, nil
}
