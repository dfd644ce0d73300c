package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/randalmurphal/storyloop/internal/git"
)

// PreserveReport lists relative paths handled by PreserveFiles.
type PreserveReport struct {
	Copied  []string `json:"copied"`
	Skipped []string `json:"skipped"`
}

// PreserveFiles copies every file under src matching a preserve pattern into
// the same relative location under dst. Excluded directories are not walked.
// Files already present at the destination are reported as skipped and never
// overwritten, so repeated runs are idempotent.
func (m *Manager) PreserveFiles(src, dst string) (PreserveReport, error) {
	return PreserveFiles(src, dst, m.cfg.Preserve, m.cfg.Exclude, m.RootDir())
}

// PreserveFiles is the configuration-free form of Manager.PreserveFiles.
// Any directory listed in skipDirs is never descended into.
func PreserveFiles(src, dst string, preserve, exclude []string, skipDirs ...string) (PreserveReport, error) {
	var report PreserveReport
	if len(preserve) == 0 {
		return report, nil
	}
	for _, p := range append(append([]string(nil), preserve...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return report, fmt.Errorf("invalid pattern %q", p)
		}
	}

	skip := map[string]bool{git.CanonicalPath(dst): true}
	for _, d := range skipDirs {
		skip[git.CanonicalPath(d)] = true
	}

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == src {
				return err
			}
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		slashRel := filepath.ToSlash(rel)

		if d.IsDir() {
			if d.Name() == ".git" || skip[git.CanonicalPath(path)] || dirExcluded(slashRel, exclude) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !matchAny(preserve, slashRel) || matchAny(exclude, slashRel) {
			return nil
		}

		copied, err := copyNew(path, filepath.Join(dst, rel))
		if err != nil {
			return fmt.Errorf("copy %s: %w", slashRel, err)
		}
		if copied {
			report.Copied = append(report.Copied, slashRel)
		} else {
			report.Skipped = append(report.Skipped, slashRel)
		}
		return nil
	})
	return report, err
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// dirExcluded reports whether everything under dir is excluded, so the walk
// can skip it entirely.
func dirExcluded(dir string, exclude []string) bool {
	return matchAny(exclude, dir) || matchAny(exclude, dir+"/__any__")
}

// copyNew copies src to dst unless dst exists. Returns false when skipped.
func copyNew(src, dst string) (bool, error) {
	info, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return false, err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}

	in, err := os.Open(src)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return false, err
	}
	defer in.Close()

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return false, err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return false, err
	}
	return true, nil
}
