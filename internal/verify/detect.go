package verify

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
)

var makeTestTarget = regexp.MustCompile(`^test\s*:`)

// DetectCommand infers the test command for the project at dir. It returns
// "" when nothing recognizable is present.
func DetectCommand(dir string) string {
	switch {
	case fileExists(filepath.Join(dir, "go.mod")):
		return "go test ./..."
	case fileExists(filepath.Join(dir, "Cargo.toml")):
		return "cargo test"
	case fileExists(filepath.Join(dir, "package.json")):
		return nodeManager(dir) + " test"
	case fileExists(filepath.Join(dir, "pyproject.toml")),
		fileExists(filepath.Join(dir, "setup.py")),
		fileExists(filepath.Join(dir, "pytest.ini")):
		return "pytest"
	case hasMakeTestTarget(filepath.Join(dir, "Makefile")):
		return "make test"
	}
	return ""
}

// nodeManager picks the package manager from the lock file present.
func nodeManager(dir string) string {
	switch {
	case fileExists(filepath.Join(dir, "bun.lockb")), fileExists(filepath.Join(dir, "bun.lock")):
		return "bun"
	case fileExists(filepath.Join(dir, "pnpm-lock.yaml")):
		return "pnpm"
	case fileExists(filepath.Join(dir, "yarn.lock")):
		return "yarn"
	default:
		return "npm"
	}
}

func hasMakeTestTarget(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if makeTestTarget.MatchString(scanner.Text()) {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
