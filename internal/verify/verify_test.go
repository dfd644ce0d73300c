package verify

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/storyloop/internal/config"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestDetectCommand(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{"go", map[string]string{"go.mod": "module x"}, "go test ./..."},
		{"rust", map[string]string{"Cargo.toml": ""}, "cargo test"},
		{"npm", map[string]string{"package.json": "{}"}, "npm test"},
		{"yarn", map[string]string{"package.json": "{}", "yarn.lock": ""}, "yarn test"},
		{"pnpm", map[string]string{"package.json": "{}", "pnpm-lock.yaml": ""}, "pnpm test"},
		{"bun", map[string]string{"package.json": "{}", "bun.lockb": ""}, "bun test"},
		{"python", map[string]string{"pyproject.toml": ""}, "pytest"},
		{"setup.py", map[string]string{"setup.py": ""}, "pytest"},
		{"make", map[string]string{"Makefile": "build:\n\tgo build\ntest: build\n\t./run"}, "make test"},
		{"make without test", map[string]string{"Makefile": "build:\n\tgo build\n"}, ""},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writeFile(t, dir, name, content)
			}
			assert.Equal(t, tt.want, DetectCommand(dir))
		})
	}
}

func TestVerify_Passes(t *testing.T) {
	r := New(config.VerifyConfig{Command: "echo all good"}, nil)

	res, err := r.Verify(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, "echo all good", res.Command)
	assert.Contains(t, res.Output, "all good")
}

func TestVerify_FailsWithCombinedOutput(t *testing.T) {
	r := New(config.VerifyConfig{Command: "echo out; echo err >&2; exit 3"}, nil)

	res, err := r.Verify(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Output, "out")
	assert.Contains(t, res.Output, "err")
}

func TestVerify_RunsInWorkDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "marker.txt", "here")
	r := New(config.VerifyConfig{Command: "cat marker.txt"}, nil)

	res, err := r.Verify(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Contains(t, res.Output, "here")
}

func TestVerify_Timeout(t *testing.T) {
	r := New(config.VerifyConfig{Command: "sleep 5", Timeout: 100 * time.Millisecond}, nil)

	start := time.Now()
	res, err := r.Verify(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.True(t, res.TimedOut)
	assert.Contains(t, res.Output, "[TIMEOUT]")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestVerify_NoCommand(t *testing.T) {
	r := New(config.VerifyConfig{}, nil)
	_, err := r.Verify(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoCommand)
}

func TestVerify_DetectsCommand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Makefile", "test:\n\t@echo detected\n")
	r := New(config.VerifyConfig{}, nil)

	assert.Equal(t, "make test", r.Command(dir))
}

func TestTail(t *testing.T) {
	assert.Equal(t, "short", tail("short", 10))
	assert.Equal(t, "...[truncated]\n6789", tail("0123456789", 4))

	// The last four bytes start inside 世.
	got := tail("a世界", 4)
	assert.Equal(t, "...[truncated]\n界", got)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "...[truncated]\n", tail("aé", 1))
}
