// Package config provides configuration management for storyloop.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Dir is the per-project metadata directory.
	Dir = ".storyloop"
	// ConfigFileName is the config file name inside Dir.
	ConfigFileName = "config.yaml"
	// DefaultProvider is the agent provider used when none is configured.
	DefaultProvider = "claude"
)

// Config is the merged storyloop configuration.
type Config struct {
	// Provider is the agent provider id (claude, codex, gemini).
	Provider string `yaml:"provider"`

	// MaxIterations caps retries per story after the initial attempt.
	MaxIterations int `yaml:"max_iterations"`

	// AutoApprove lets the agent run tools without prompting.
	AutoApprove bool `yaml:"auto_approve"`

	Verify    VerifyConfig    `yaml:"verify"`
	Runner    RunnerConfig    `yaml:"runner"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	TextGen   TextGenConfig   `yaml:"textgen"`
}

// VerifyConfig configures the verification command run after each coding phase.
type VerifyConfig struct {
	// Command is run through the shell in the workspace. Empty means detect.
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// RunnerConfig configures agent process supervision.
type RunnerConfig struct {
	// FlushDelay is how long to keep reading after a completion signal.
	FlushDelay time.Duration `yaml:"flush_delay"`
	// Shell overrides the login shell used to wrap agent commands.
	Shell string `yaml:"shell"`
	// EnvAllow lists extra environment variables passed to the agent.
	EnvAllow []string `yaml:"env_allow"`
}

// WorkspaceConfig configures isolated worktrees.
type WorkspaceConfig struct {
	BranchPrefix string   `yaml:"branch_prefix"`
	RootDir      string   `yaml:"root_dir"`
	Preserve     []string `yaml:"preserve"`
	Exclude      []string `yaml:"exclude"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Addr      string        `yaml:"addr"`
	KeepAlive time.Duration `yaml:"keepalive"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	// Driver is sqlite or postgres.
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite or a connection string for postgres.
	// Empty sqlite DSN means .storyloop/storyloop.db under the project root.
	DSN string `yaml:"dsn"`
}

// TextGenConfig configures the text-generation collaborator.
type TextGenConfig struct {
	// Provider runs non-interactively to answer generation calls. Empty uses Provider.
	Provider string `yaml:"provider"`
	// Retries bounds the JSON repair loop.
	Retries int `yaml:"retries"`
}

// DefaultPreservePatterns are files copied from the project root into new workspaces.
var DefaultPreservePatterns = []string{
	".env",
	".env.*",
	"**/.env",
	"**/.env.*",
	".envrc",
	"**/.dev.vars",
}

// DefaultExcludePatterns are never searched for preserved files.
var DefaultExcludePatterns = []string{
	".git/**",
	"node_modules/**",
	"**/node_modules/**",
	"vendor/**",
	"dist/**",
	"build/**",
	"target/**",
	".next/**",
	".storyloop/**",
}

// DefaultEnvAllow are environment variables always passed to agent processes.
var DefaultEnvAllow = []string{
	"HOME",
	"USER",
	"LOGNAME",
	"SHELL",
	"PATH",
	"LANG",
	"LC_ALL",
	"TMPDIR",
	"ANTHROPIC_API_KEY",
	"CLAUDE_CODE_OAUTH_TOKEN",
	"OPENAI_API_KEY",
	"GEMINI_API_KEY",
	"GOOGLE_API_KEY",
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider:      DefaultProvider,
		MaxIterations: 5,
		AutoApprove:   true,
		Verify: VerifyConfig{
			Timeout: 10 * time.Minute,
		},
		Runner: RunnerConfig{
			FlushDelay: 500 * time.Millisecond,
			EnvAllow:   append([]string(nil), DefaultEnvAllow...),
		},
		Workspace: DefaultWorkspace(),
		Server: ServerConfig{
			Addr:      ":7420",
			KeepAlive: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		TextGen: TextGenConfig{
			Retries: 3,
		},
	}
}

// DefaultWorkspace returns the built-in workspace settings.
func DefaultWorkspace() WorkspaceConfig {
	return WorkspaceConfig{
		BranchPrefix: "storyloop/",
		RootDir:      filepath.Join(Dir, "worktrees"),
		Preserve:     append([]string(nil), DefaultPreservePatterns...),
		Exclude:      append([]string(nil), DefaultExcludePatterns...),
	}
}

// Validate checks that settings are usable.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider: must not be empty")
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("max_iterations: must be >= 0, got %d", c.MaxIterations)
	}
	if c.Runner.FlushDelay < 0 {
		return fmt.Errorf("runner.flush_delay: must not be negative")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn: required for postgres")
	}
	if c.Workspace.BranchPrefix == "" {
		return fmt.Errorf("workspace.branch_prefix: must not be empty")
	}
	return nil
}

// DatabasePath returns the sqlite file for a project when no DSN is set.
func (c *Config) DatabasePath(projectRoot string) string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return filepath.Join(projectRoot, Dir, "storyloop.db")
}

// ProjectConfigPath returns the project config file path under root.
func ProjectConfigPath(root string) string {
	return filepath.Join(root, Dir, ConfigFileName)
}

// SaveTo writes the config as YAML to path.
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
