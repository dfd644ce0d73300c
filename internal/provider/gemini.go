package provider

// Gemini drives the Gemini CLI in prompt mode.
type Gemini struct{}

func (Gemini) ID() string          { return "gemini" }
func (Gemini) Name() string        { return "Gemini CLI" }
func (Gemini) Executable() string  { return "gemini" }
func (Gemini) InstallHint() string { return "npm install -g @google/gemini-cli" }

// BuildArgs returns `[--yolo] -p <prompt>`.
func (Gemini) BuildArgs(opts Options) []string {
	var args []string
	if opts.AutoApprove {
		args = append(args, "--yolo")
	}
	return append(args, "-p", opts.Prompt)
}

func (Gemini) DetectSignal(chunk string) Signal {
	return detectMarkers(chunk)
}
