package git

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateBranchName(t *testing.T) {
	valid := []string{"main", "storyloop/TASK-1-abc123", "feature/x_y.z"}
	for _, name := range valid {
		if err := ValidateBranchName(name); err != nil {
			t.Errorf("ValidateBranchName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{
		"", "HEAD", "@", "-leading", ".hidden", "a..b", "a//b", "a/.b", "a./b",
		"x.lock", "trailing.", "trailing/", "has space", "semi;colon", "a@{1}",
		strings.Repeat("a", MaxBranchNameLength+1),
	}
	for _, name := range invalid {
		if err := ValidateBranchName(name); !errors.Is(err, ErrInvalidBranchName) {
			t.Errorf("ValidateBranchName(%q) = %v, want ErrInvalidBranchName", name, err)
		}
	}
}

func TestSanitizeRefComponent(t *testing.T) {
	tests := map[string]string{
		"TASK-001":          "TASK-001",
		"fix the bug!":      "fix-the-bug",
		"../../etc/passwd":  "etc-passwd",
		"   ":               "task",
		"a..b":              "a.b",
		"-lead-and-trail-.": "lead-and-trail",
	}
	for in, want := range tests {
		if got := SanitizeRefComponent(in); got != want {
			t.Errorf("SanitizeRefComponent(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBranchNameIsValid(t *testing.T) {
	for _, id := range []string{"TASK-1", "weird id $(rm -rf)", "", "über/task"} {
		name := BranchName("storyloop/", id, "a1b2c3")
		if err := ValidateBranchName(name); err != nil {
			t.Errorf("BranchName for %q produced invalid %q: %v", id, name, err)
		}
		if !strings.HasPrefix(name, "storyloop/") || !strings.HasSuffix(name, "-a1b2c3") {
			t.Errorf("unexpected branch name %q", name)
		}
	}
}

func TestDirName(t *testing.T) {
	if got := DirName("storyloop/TASK-1-abc"); got != "storyloop-task-1-abc" {
		t.Errorf("DirName = %q", got)
	}
}
