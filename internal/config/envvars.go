package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// EnvVarMapping maps environment variable names to config paths.
var EnvVarMapping = map[string]string{
	"STORYLOOP_PROVIDER":       "provider",
	"STORYLOOP_MAX_ITERATIONS": "max_iterations",
	"STORYLOOP_AUTO_APPROVE":   "auto_approve",
	"STORYLOOP_VERIFY_COMMAND": "verify.command",
	"STORYLOOP_VERIFY_TIMEOUT": "verify.timeout",
	"STORYLOOP_FLUSH_DELAY":    "runner.flush_delay",
	"STORYLOOP_SHELL":          "runner.shell",
	"STORYLOOP_BRANCH_PREFIX":  "workspace.branch_prefix",
	"STORYLOOP_WORKSPACE_ROOT": "workspace.root_dir",
	"STORYLOOP_ADDR":           "server.addr",
	"STORYLOOP_DB_DRIVER":      "database.driver",
	"STORYLOOP_DB_DSN":         "database.dsn",
}

// ApplyEnvVars applies STORYLOOP_* overrides to tc.
func ApplyEnvVars(tc *TrackedConfig) {
	for envVar, path := range EnvVarMapping {
		value, ok := os.LookupEnv(envVar)
		if !ok {
			continue
		}
		if applyEnvVar(tc.Config, path, value) {
			tc.SetSource(path, SourceEnv)
		} else {
			slog.Warn("ignoring invalid environment override", "var", envVar, "value", value)
		}
	}
}

// ApplyOverride sets path from a string value and records source. It
// returns false for unknown paths or unparseable values.
func ApplyOverride(tc *TrackedConfig, path, value string, source ConfigSource) bool {
	if !applyEnvVar(tc.Config, path, value) {
		return false
	}
	tc.SetSource(path, source)
	return true
}

// applyEnvVar sets one config path from a string. Returns false if value is invalid.
func applyEnvVar(cfg *Config, path, value string) bool {
	switch path {
	case "provider":
		cfg.Provider = value
	case "max_iterations":
		n, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		cfg.MaxIterations = n
	case "auto_approve":
		b, ok := parseBool(value)
		if !ok {
			return false
		}
		cfg.AutoApprove = b
	case "verify.command":
		cfg.Verify.Command = value
	case "verify.timeout":
		d, err := parseDuration(value)
		if err != nil {
			return false
		}
		cfg.Verify.Timeout = d
	case "runner.flush_delay":
		d, err := parseDuration(value)
		if err != nil {
			return false
		}
		cfg.Runner.FlushDelay = d
	case "runner.shell":
		cfg.Runner.Shell = value
	case "workspace.branch_prefix":
		cfg.Workspace.BranchPrefix = value
	case "workspace.root_dir":
		cfg.Workspace.RootDir = value
	case "server.addr":
		cfg.Server.Addr = value
	case "database.driver":
		cfg.Database.Driver = value
	case "database.dsn":
		cfg.Database.DSN = value
	default:
		return false
	}
	return true
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}
