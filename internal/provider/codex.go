package provider

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Codex drives the OpenAI Codex CLI in exec mode with JSON event output.
type Codex struct{}

func (Codex) ID() string          { return "codex" }
func (Codex) Name() string        { return "OpenAI Codex" }
func (Codex) Executable() string  { return "codex" }
func (Codex) InstallHint() string { return "npm install -g @openai/codex" }

// BuildArgs returns `exec [--full-auto] --json <prompt>`.
func (Codex) BuildArgs(opts Options) []string {
	args := []string{"exec"}
	if opts.AutoApprove {
		args = append(args, "--full-auto")
	}
	return append(args, "--json", opts.Prompt)
}

// DetectSignal recognizes turn events in the JSON stream and the promise markers.
func (Codex) DetectSignal(chunk string) Signal {
	for _, line := range strings.Split(StripANSI(chunk), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") || !gjson.Valid(line) {
			continue
		}
		switch gjson.Get(line, "type").String() {
		case "turn.completed":
			return SignalComplete
		case "turn.failed", "error":
			return SignalError
		}
	}
	return detectMarkers(chunk)
}
