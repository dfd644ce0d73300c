package config

// ConfigSource indicates where a configuration value came from.
type ConfigSource string

const (
	// SourceDefault indicates a built-in default value.
	SourceDefault ConfigSource = "default"
	// SourceUser indicates ~/.storyloop/config.yaml.
	SourceUser ConfigSource = "user"
	// SourceProject indicates the project .storyloop/config.yaml.
	SourceProject ConfigSource = "project"
	// SourceEnv indicates an environment variable override.
	SourceEnv ConfigSource = "env"
	// SourceFlag indicates a CLI flag override.
	SourceFlag ConfigSource = "flag"
)

// TrackedConfig wraps a Config with the source of each explicitly set path.
type TrackedConfig struct {
	Config  *Config
	Sources map[string]ConfigSource
	// Paths maps config paths to the file that last set them.
	Paths map[string]string
}

// NewTrackedConfig creates a new TrackedConfig holding defaults.
func NewTrackedConfig() *TrackedConfig {
	return &TrackedConfig{
		Config:  Default(),
		Sources: make(map[string]ConfigSource),
		Paths:   make(map[string]string),
	}
}

// SetSource records the source for a config path.
func (tc *TrackedConfig) SetSource(path string, source ConfigSource) {
	tc.Sources[path] = source
}

// SetSourceWithPath records the source and file path for a config path.
func (tc *TrackedConfig) SetSourceWithPath(path string, source ConfigSource, filePath string) {
	tc.Sources[path] = source
	tc.Paths[path] = filePath
}

// GetSource returns the source for a config path, SourceDefault if unset.
func (tc *TrackedConfig) GetSource(path string) ConfigSource {
	if source, ok := tc.Sources[path]; ok {
		return source
	}
	return SourceDefault
}
