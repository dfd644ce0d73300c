// Package git provides the git plumbing behind storyloop workspaces.
package git

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxBranchNameLength is the maximum allowed length for branch names.
const MaxBranchNameLength = 256

// ErrInvalidBranchName indicates a branch name failed validation.
var ErrInvalidBranchName = errors.New("invalid branch name")

// branchNamePattern validates branch names: alphanumeric, slash, hyphen, underscore, dot.
// Must start with alphanumeric.
var branchNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9/_.-]*$`)

var (
	unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
	repeatedDash  = regexp.MustCompile(`-+`)
	unsafeDirChar = regexp.MustCompile(`[^a-z0-9._-]`)
)

// ValidateBranchName validates a branch name for security and git compatibility.
//
// Validation rules:
//   - Must not be empty or longer than MaxBranchNameLength
//   - Must start with an alphanumeric character
//   - May only contain: a-z, A-Z, 0-9, /, -, _, .
//   - Must not contain "..", "//", "@{", or components starting or ending with "."
//   - Must not end with ".lock", "." or "/"
//   - Must not be HEAD or "@"
func ValidateBranchName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidBranchName)
	}
	if len(name) > MaxBranchNameLength {
		return fmt.Errorf("%w: exceeds maximum length of %d characters", ErrInvalidBranchName, MaxBranchNameLength)
	}
	if strings.EqualFold(name, "head") {
		return fmt.Errorf("%w: '%s' is a reserved name", ErrInvalidBranchName, name)
	}
	if strings.Contains(name, "@{") {
		return fmt.Errorf("%w: cannot contain '@{' (git revision syntax)", ErrInvalidBranchName)
	}
	if name == "@" {
		return fmt.Errorf("%w: '@' alone is not allowed", ErrInvalidBranchName)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: cannot contain '..'", ErrInvalidBranchName)
	}
	if strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("%w: cannot end with '.lock'", ErrInvalidBranchName)
	}
	if strings.HasSuffix(name, ".") {
		return fmt.Errorf("%w: cannot end with '.'", ErrInvalidBranchName)
	}
	if strings.HasSuffix(name, "/") {
		return fmt.Errorf("%w: cannot end with '/'", ErrInvalidBranchName)
	}
	if strings.Contains(name, "//") {
		return fmt.Errorf("%w: cannot contain '//'", ErrInvalidBranchName)
	}
	if strings.Contains(name, "/.") {
		return fmt.Errorf("%w: path components cannot start with '.'", ErrInvalidBranchName)
	}
	if strings.Contains(name, "./") {
		return fmt.Errorf("%w: path components cannot end with '.'", ErrInvalidBranchName)
	}
	if !branchNamePattern.MatchString(name) {
		return fmt.Errorf("%w: contains invalid characters (allowed: a-z, A-Z, 0-9, /, -, _, .)", ErrInvalidBranchName)
	}
	return nil
}

// SanitizeRefComponent makes an arbitrary task id usable inside a branch name.
// Disallowed runs collapse to a single hyphen; an empty result becomes "task".
func SanitizeRefComponent(id string) string {
	safe := unsafeIDChars.ReplaceAllString(id, "-")
	safe = strings.ReplaceAll(safe, "..", ".")
	safe = repeatedDash.ReplaceAllString(safe, "-")
	safe = strings.Trim(safe, "-._")
	if len(safe) > 64 {
		safe = strings.TrimRight(safe[:64], "-._")
	}
	if safe == "" {
		return "task"
	}
	return safe
}

// BranchName joins prefix, the sanitized task id and a suffix: prefix + id + "-" + suffix.
func BranchName(prefix, taskID, suffix string) string {
	name := prefix + SanitizeRefComponent(taskID)
	if suffix != "" {
		name += "-" + suffix
	}
	return name
}

// DirName converts a branch name to a safe directory name.
func DirName(branch string) string {
	safe := strings.ToLower(strings.ReplaceAll(branch, "/", "-"))
	safe = unsafeDirChar.ReplaceAllString(safe, "")
	safe = repeatedDash.ReplaceAllString(safe, "-")
	return strings.Trim(safe, "-.")
}
