package provider

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Claude drives the Claude Code CLI. It is the default provider.
type Claude struct{}

func (Claude) ID() string         { return "claude" }
func (Claude) Name() string       { return "Claude Code" }
func (Claude) Executable() string { return "claude" }

func (Claude) InstallHint() string {
	return "npm install -g @anthropic-ai/claude-code"
}

// BuildArgs returns `[--dangerously-skip-permissions] <prompt>`.
func (Claude) BuildArgs(opts Options) []string {
	var args []string
	if opts.AutoApprove {
		args = append(args, "--dangerously-skip-permissions")
	}
	return append(args, opts.Prompt)
}

// DetectSignal recognizes promise markers and stream-json result lines.
func (Claude) DetectSignal(chunk string) Signal {
	if sig := detectMarkers(chunk); sig != SignalNone {
		return sig
	}
	for _, line := range strings.Split(StripANSI(chunk), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") || !gjson.Valid(line) {
			continue
		}
		if gjson.Get(line, "type").String() != "result" {
			continue
		}
		if gjson.Get(line, "is_error").Bool() {
			return SignalError
		}
		return SignalComplete
	}
	return SignalNone
}
