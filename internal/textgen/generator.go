// Package textgen calls a non-interactive agent CLI for structured text
// generation and coerces the reply into validated JSON.
package textgen

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Generator produces a completion for a system prompt and user content.
type Generator interface {
	Call(ctx context.Context, systemPrompt, userContent string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, systemPrompt, userContent string) (string, error)

func (f GeneratorFunc) Call(ctx context.Context, systemPrompt, userContent string) (string, error) {
	return f(ctx, systemPrompt, userContent)
}

// CommandGenerator runs an agent CLI in print mode with the prompt on stdin.
type CommandGenerator struct {
	// Argv is the command and its fixed arguments.
	Argv []string
	// Dir is the working directory, empty for the current one.
	Dir string
}

// printModeArgs are the non-interactive invocations per provider id.
var printModeArgs = map[string][]string{
	"claude": {"claude", "-p"},
	"codex":  {"codex", "exec", "-"},
	"gemini": {"gemini"},
}

// NewCommandGenerator returns a generator for a known provider id.
func NewCommandGenerator(providerID, dir string) (*CommandGenerator, error) {
	argv, ok := printModeArgs[providerID]
	if !ok {
		return nil, fmt.Errorf("no print mode for provider %q", providerID)
	}
	return &CommandGenerator{Argv: append([]string(nil), argv...), Dir: dir}, nil
}

// Call runs the command once and returns its stdout.
func (g *CommandGenerator) Call(ctx context.Context, systemPrompt, userContent string) (string, error) {
	if len(g.Argv) == 0 {
		return "", fmt.Errorf("command generator: empty command")
	}

	cmd := exec.CommandContext(ctx, g.Argv[0], g.Argv[1:]...)
	cmd.Dir = g.Dir
	cmd.Stdin = strings.NewReader(joinPrompt(systemPrompt, userContent))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s failed: %w: %s", g.Argv[0], err, truncate(stderr.String(), 500))
	}
	return stdout.String(), nil
}

func joinPrompt(systemPrompt, userContent string) string {
	if systemPrompt == "" {
		return userContent
	}
	return systemPrompt + "\n\n" + userContent
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "...[truncated]"
}
