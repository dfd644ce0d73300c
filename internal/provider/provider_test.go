package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeBuildArgs(t *testing.T) {
	p := Claude{}
	assert.Equal(t, []string{"--dangerously-skip-permissions", "do it"},
		p.BuildArgs(Options{Prompt: "do it", AutoApprove: true}))
	assert.Equal(t, []string{"do it"}, p.BuildArgs(Options{Prompt: "do it"}))
	assert.Equal(t, []string{"claude", "do it"}, Command(p, Options{Prompt: "do it"}))
}

func TestCodexBuildArgs(t *testing.T) {
	assert.Equal(t, []string{"exec", "--full-auto", "--json", "fix"},
		Codex{}.BuildArgs(Options{Prompt: "fix", AutoApprove: true}))
	assert.Equal(t, []string{"exec", "--json", "fix"}, Codex{}.BuildArgs(Options{Prompt: "fix"}))
}

func TestGeminiBuildArgs(t *testing.T) {
	assert.Equal(t, []string{"--yolo", "-p", "x"}, Gemini{}.BuildArgs(Options{Prompt: "x", AutoApprove: true}))
	assert.Equal(t, []string{"-p", "x"}, Gemini{}.BuildArgs(Options{Prompt: "x"}))
}

func TestDetectSignal(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		chunk    string
		want     Signal
	}{
		{"plain text", Claude{}, "working on it...\n", SignalNone},
		{"claude marker", Claude{}, "all done <promise>COMPLETE</promise>\n", SignalComplete},
		{"marker inside ansi", Claude{}, "\x1b[32m<promise>COMPLETE</promise>\x1b[0m", SignalComplete},
		{"stuck marker", Gemini{}, "<promise>STUCK</promise>", SignalError},
		{"claude result line", Claude{}, `{"type":"result","subtype":"success","is_error":false}` + "\n", SignalComplete},
		{"claude error result", Claude{}, `{"type":"result","is_error":true}`, SignalError},
		{"claude other json", Claude{}, `{"type":"assistant"}`, SignalNone},
		{"codex turn completed", Codex{}, `{"type":"thread.started"}` + "\n" + `{"type":"turn.completed"}`, SignalComplete},
		{"codex turn failed", Codex{}, `{"type":"turn.failed","error":{"message":"x"}}`, SignalError},
		{"codex marker", Codex{}, "<promise>COMPLETE</promise>", SignalComplete},
		{"codex broken json", Codex{}, `{"type":"turn.comp`, SignalNone},
		{"gemini marker", Gemini{}, "<promise>COMPLETE</promise>", SignalComplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.provider.DetectSignal(tt.chunk))
		})
	}
}

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "hello world", StripANSI("\x1b[1;34mhello\x1b[0m \x1b[?25lworld"))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	p, err := r.Get("")
	require.NoError(t, err)
	assert.Equal(t, "claude", p.ID())

	p, err = r.Get("codex")
	require.NoError(t, err)
	assert.Equal(t, "codex", p.ID())

	_, err = r.Get("cursor")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	var unknown *UnknownProviderError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "cursor", unknown.ID)

	require.NoError(t, r.SetDefault("gemini"))
	assert.Equal(t, "gemini", r.Default().ID())
	assert.ErrorIs(t, r.SetDefault("nope"), ErrUnknownProvider)

	ids := []string{}
	for _, p := range r.List() {
		ids = append(ids, p.ID())
	}
	assert.Equal(t, []string{"claude", "codex", "gemini"}, ids)
}
