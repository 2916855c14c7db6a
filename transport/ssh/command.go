package ssh

import (
	"fmt"
	"strings"

	"github.com/ruffel/relay"
	"golang.org/x/crypto/ssh"
)

// buildEnvPrefix constructs the environment variable prefix for SSH commands.
// Since OpenSSH defaults PermitUserEnvironment=no, session.Setenv() won't work.
// We work around by prepending "export VAR='val';" to the command string.
func buildEnvPrefix(envVars []string) string {
	var envPrefix strings.Builder

	for _, env := range envVars {
		k, v, found := cutEnv(env)
		if !found {
			continue
		}

		fmt.Fprintf(&envPrefix, "export %s=%s; ", k, quote(v))
	}

	return envPrefix.String()
}

// buildDirPrefix constructs the directory change prefix for SSH commands.
func buildDirPrefix(dir string) string {
	if dir == "" {
		return ""
	}

	return fmt.Sprintf("cd %s && ", quote(dir))
}

// buildTerminalModes returns the default terminal modes for a PTY.
func buildTerminalModes() ssh.TerminalModes {
	return ssh.TerminalModes{
		ssh.ECHO:          1,     // enable echoing
		ssh.TTY_OP_ISPEED: 14400, // input speed = 14.4kbaud
		ssh.TTY_OP_OSPEED: 14400, // output speed = 14.4kbaud
	}
}

// buildCommand prefixes the command line with its environment and working
// directory. The command itself is passed through as written.
func buildCommand(req relay.ExecRequest) string {
	return buildEnvPrefix(req.Env) + buildDirPrefix(req.Dir) + req.Command
}

// quote wraps s in single quotes for a POSIX shell: ' -> '\''
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func cutEnv(kv string) (string, string, bool) {
	k, v, found := strings.Cut(kv, "=")
	if !found || k == "" {
		return "", "", false
	}

	return k, v, true
}
