package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration from the user file, the project file, and env.
type Loader struct {
	projectDir string
	userDir    string
}

// NewLoader creates a loader for the given project root.
func NewLoader(projectDir string) *Loader {
	home, _ := os.UserHomeDir()
	return &Loader{
		projectDir: projectDir,
		userDir:    filepath.Join(home, Dir),
	}
}

// SetUserDir overrides the user config directory (used by tests).
func (l *Loader) SetUserDir(dir string) {
	l.userDir = dir
}

// Load returns the merged config: defaults, user file, project file, then env.
func (l *Loader) Load() (*TrackedConfig, error) {
	tc := NewTrackedConfig()

	if l.userDir != "" {
		userPath := filepath.Join(l.userDir, ConfigFileName)
		if err := l.mergeFile(tc, userPath, SourceUser); err != nil {
			return nil, err
		}
	}

	if l.projectDir != "" {
		if err := l.mergeFile(tc, ProjectConfigPath(l.projectDir), SourceProject); err != nil {
			return nil, err
		}
	}

	ApplyEnvVars(tc)

	if err := tc.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return tc, nil
}

// Load is a convenience wrapper around NewLoader(projectDir).Load().
func Load(projectDir string) (*TrackedConfig, error) {
	return NewLoader(projectDir).Load()
}

// LoadWorkspace returns the merged workspace section for a project.
func LoadWorkspace(projectDir string) (WorkspaceConfig, error) {
	tc, err := Load(projectDir)
	if err != nil {
		return WorkspaceConfig{}, err
	}
	return tc.Config.Workspace, nil
}

// mergeFile merges a YAML file into tc. Missing files are ignored.
func (l *Loader) mergeFile(tc *TrackedConfig, path string, source ConfigSource) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	mergeConfig(tc, &fileCfg, raw, source, path)
	return nil
}

// mergeConfig copies fields present in raw from src into tc.Config.
// Presence is checked on the raw map so explicit zero values still override.
func mergeConfig(tc *TrackedConfig, src *Config, raw map[string]any, source ConfigSource, path string) {
	dst := tc.Config
	set := func(key string) {
		tc.SetSourceWithPath(key, source, path)
	}

	if _, ok := raw["provider"]; ok {
		dst.Provider = src.Provider
		set("provider")
	}
	if _, ok := raw["max_iterations"]; ok {
		dst.MaxIterations = src.MaxIterations
		set("max_iterations")
	}
	if _, ok := raw["auto_approve"]; ok {
		dst.AutoApprove = src.AutoApprove
		set("auto_approve")
	}

	if m, ok := raw["verify"].(map[string]any); ok {
		if _, ok := m["command"]; ok {
			dst.Verify.Command = src.Verify.Command
			set("verify.command")
		}
		if _, ok := m["timeout"]; ok {
			dst.Verify.Timeout = src.Verify.Timeout
			set("verify.timeout")
		}
	}

	if m, ok := raw["runner"].(map[string]any); ok {
		if _, ok := m["flush_delay"]; ok {
			dst.Runner.FlushDelay = src.Runner.FlushDelay
			set("runner.flush_delay")
		}
		if _, ok := m["shell"]; ok {
			dst.Runner.Shell = src.Runner.Shell
			set("runner.shell")
		}
		if _, ok := m["env_allow"]; ok {
			dst.Runner.EnvAllow = MergeUnique(dst.Runner.EnvAllow, src.Runner.EnvAllow)
			set("runner.env_allow")
		}
	}

	if m, ok := raw["workspace"].(map[string]any); ok {
		if _, ok := m["branch_prefix"]; ok {
			dst.Workspace.BranchPrefix = src.Workspace.BranchPrefix
			set("workspace.branch_prefix")
		}
		if _, ok := m["root_dir"]; ok {
			dst.Workspace.RootDir = src.Workspace.RootDir
			set("workspace.root_dir")
		}
		if _, ok := m["preserve"]; ok {
			dst.Workspace.Preserve = MergeUnique(dst.Workspace.Preserve, src.Workspace.Preserve)
			set("workspace.preserve")
		}
		if _, ok := m["exclude"]; ok {
			dst.Workspace.Exclude = MergeUnique(dst.Workspace.Exclude, src.Workspace.Exclude)
			set("workspace.exclude")
		}
	}

	if m, ok := raw["server"].(map[string]any); ok {
		if _, ok := m["addr"]; ok {
			dst.Server.Addr = src.Server.Addr
			set("server.addr")
		}
		if _, ok := m["keepalive"]; ok {
			dst.Server.KeepAlive = src.Server.KeepAlive
			set("server.keepalive")
		}
	}

	if m, ok := raw["database"].(map[string]any); ok {
		if _, ok := m["driver"]; ok {
			dst.Database.Driver = src.Database.Driver
			set("database.driver")
		}
		if _, ok := m["dsn"]; ok {
			dst.Database.DSN = src.Database.DSN
			set("database.dsn")
		}
	}

	if m, ok := raw["textgen"].(map[string]any); ok {
		if _, ok := m["provider"]; ok {
			dst.TextGen.Provider = src.TextGen.Provider
			set("textgen.provider")
		}
		if _, ok := m["retries"]; ok {
			dst.TextGen.Retries = src.TextGen.Retries
			set("textgen.retries")
		}
	}
}

// MergeUnique appends entries of add not already in base, preserving order.
func MergeUnique(base, add []string) []string {
	seen := make(map[string]bool, len(base)+len(add))
	out := make([]string, 0, len(base)+len(add))
	for _, s := range base {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, s := range add {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// parseDuration accepts Go durations or bare seconds.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	var secs int
	if _, err := fmt.Sscanf(s, "%d", &secs); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}
