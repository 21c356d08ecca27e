//go:build !windows

package execx

import (
	"context"
	"os"
	"os/exec"
)

// shellCommand runs through the user's shell so pipes and globs behave
// as they would in a terminal.
func shellCommand(ctx context.Context, command string) *exec.Cmd {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return exec.CommandContext(ctx, shell, "-c", command)
}

// decodeOutput is the identity on POSIX; command output is UTF-8.
func decodeOutput(b []byte) string {
	return string(b)
}
