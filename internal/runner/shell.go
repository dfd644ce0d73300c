package runner

import (
	"fmt"
	"os"
	"strings"
)

// resolveShell picks the shell used to wrap agent commands: the configured
// override, then $SHELL, then /bin/bash, then /bin/sh.
func resolveShell(override string, lookupEnv func(string) (string, bool)) string {
	if override != "" {
		return override
	}
	if sh, ok := lookupEnv("SHELL"); ok && sh != "" {
		if _, err := os.Stat(sh); err == nil {
			return sh
		}
	}
	if _, err := os.Stat("/bin/bash"); err == nil {
		return "/bin/bash"
	}
	return "/bin/sh"
}

// loginCommand wraps argv in a login-shell invocation so user profile PATH
// extensions apply to the agent executable.
func loginCommand(shell string, argv []string) []string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return []string{shell, "-l", "-c", "exec " + strings.Join(quoted, " ")}
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	if !strings.ContainsRune(value, '\'') {
		return fmt.Sprintf("'%s'", value)
	}
	return "'" + strings.ReplaceAll(value, "'", "'\\''") + "'"
}

// buildEnv returns TERM plus the allow-listed variables present in the
// caller's environment. Nothing else is inherited.
func buildEnv(allow []string, lookupEnv func(string) (string, bool)) []string {
	env := []string{"TERM=xterm-256color"}
	seen := map[string]bool{"TERM": true}
	for _, name := range allow {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if v, ok := lookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}
