// Package provider adapts coding-agent CLIs to a common invocation and
// output-signal contract so the runner stays agent-agnostic.
package provider

import (
	"regexp"
	"strings"
)

// Signal is an in-band status marker found in agent output.
type Signal int

const (
	// SignalNone means the chunk carries no status marker.
	SignalNone Signal = iota
	// SignalComplete means the agent considers its task finished.
	SignalComplete
	// SignalError means the agent reported it cannot proceed.
	SignalError
)

func (s Signal) String() string {
	switch s {
	case SignalComplete:
		return "complete"
	case SignalError:
		return "error"
	default:
		return "none"
	}
}

const (
	// CompleteMarker is emitted by the agent when the story is done.
	CompleteMarker = "<promise>COMPLETE</promise>"
	// StuckMarker is emitted by the agent when it gives up.
	StuckMarker = "<promise>STUCK</promise>"
)

// Options are the generic run options translated into CLI arguments.
type Options struct {
	Prompt      string
	AutoApprove bool
	WorkDir     string
}

// Provider translates Options into a concrete CLI invocation and recognizes
// status markers in its output. Implementations must be free of side effects.
type Provider interface {
	ID() string
	Name() string
	Executable() string
	InstallHint() string
	BuildArgs(opts Options) []string
	DetectSignal(chunk string) Signal
}

// Command returns the full argv for opts: the executable followed by its args.
func Command(p Provider, opts Options) []string {
	return append([]string{p.Executable()}, p.BuildArgs(opts)...)
}

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07|\x1b[()][AB012]`)

// StripANSI removes terminal escape sequences from s.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// detectMarkers checks ANSI-stripped text for the shared promise markers.
func detectMarkers(chunk string) Signal {
	clean := StripANSI(chunk)
	switch {
	case strings.Contains(clean, StuckMarker):
		return SignalError
	case strings.Contains(clean, CompleteMarker):
		return SignalComplete
	}
	return SignalNone
}
