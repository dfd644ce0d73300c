package cli

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/storyloop/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect storyloop configuration",
		Long: `Inspect the merged configuration.

Values are layered: built-in defaults, ~/.storyloop/config.yaml, the
project's .storyloop/config.yaml, STORYLOOP_* environment variables, then
command-line flags.`,
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

// newConfigShowCmd creates the 'config show' subcommand.
func newConfigShowCmd() *cobra.Command {
	var showSource bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show merged configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if showSource {
				printConfigSources(out, tc)
				return nil
			}
			return printConfigAsYAML(out, tc.Config)
		},
	}
	cmd.Flags().BoolVar(&showSource, "source", false, "show where each overridden value came from")
	return cmd
}

// newConfigInitCmd writes the defaults to the project config file.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a project config file with the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ProjectConfigPath(projectDir)
			if !force && fileExists(path) {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Default().SaveTo(path); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// printConfigAsYAML outputs the config as YAML.
func printConfigAsYAML(out io.Writer, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, _ = fmt.Fprint(out, string(data))
	return nil
}

// printConfigSources lists every non-default path with its source.
func printConfigSources(out io.Writer, tc *config.TrackedConfig) {
	paths := make([]string, 0, len(tc.Sources))
	for p := range tc.Sources {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		_, _ = fmt.Fprintln(out, "all values are defaults")
		return
	}
	for _, p := range paths {
		line := fmt.Sprintf("%s (%s)", p, tc.GetSource(p))
		if file := tc.Paths[p]; file != "" {
			line += " " + file
		}
		_, _ = fmt.Fprintln(out, line)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
