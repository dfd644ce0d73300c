package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/storyloop/internal/config"
)

func TestPreserveFilesIdempotent(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	writeFile(t, filepath.Join(src, ".env"), "A=1\n")
	writeFile(t, filepath.Join(src, ".envrc"), "use nix\n")
	writeFile(t, filepath.Join(src, "web", ".env.production"), "B=2\n")
	writeFile(t, filepath.Join(src, "worker", ".dev.vars"), "C=3\n")
	writeFile(t, filepath.Join(src, "main.go"), "package main\n")
	writeFile(t, filepath.Join(src, "node_modules", "x", ".env"), "skip\n")
	writeFile(t, filepath.Join(src, "vendor", ".env"), "skip\n")

	preserve := config.DefaultPreservePatterns
	exclude := config.DefaultExcludePatterns

	first, err := PreserveFiles(src, dst, preserve, exclude)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".env", ".envrc", "web/.env.production", "worker/.dev.vars"}, first.Copied)
	assert.Empty(t, first.Skipped)

	snapshot := readTree(t, dst)

	second, err := PreserveFiles(src, dst, preserve, exclude)
	require.NoError(t, err)
	assert.Empty(t, second.Copied)
	assert.ElementsMatch(t, first.Copied, second.Skipped)
	assert.Equal(t, snapshot, readTree(t, dst))

	assert.NoFileExists(t, filepath.Join(dst, "main.go"))
	assert.NoFileExists(t, filepath.Join(dst, "node_modules", "x", ".env"))
	assert.NoFileExists(t, filepath.Join(dst, "vendor", ".env"))
}

func TestPreserveFilesNeverOverwrites(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, ".env"), "NEW=1\n")
	writeFile(t, filepath.Join(dst, ".env"), "EXISTING=1\n")

	report, err := PreserveFiles(src, dst, []string{".env"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{".env"}, report.Skipped)

	data, err := os.ReadFile(filepath.Join(dst, ".env"))
	require.NoError(t, err)
	assert.Equal(t, "EXISTING=1\n", string(data))
}

func TestPreserveFilesSkipsDestinationInsideSource(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(src, "wt", "one")
	writeFile(t, filepath.Join(src, ".env"), "A=1\n")
	writeFile(t, filepath.Join(dst, "nested", ".env"), "from a previous copy\n")

	report, err := PreserveFiles(src, dst, []string{"**/.env"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{".env"}, report.Copied)
}

func TestPreserveFilesInvalidPattern(t *testing.T) {
	_, err := PreserveFiles(t.TempDir(), t.TempDir(), []string{"[unclosed"}, nil)
	assert.Error(t, err)
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		out[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}
