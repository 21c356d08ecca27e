// Package execx runs diagnostic shell commands with wall-clock timeouts.
//
// The contract is "fails never": OS-level launch errors come back as a
// non-zero exit code with the error text on stderr, and a timeout kills
// the child, awaits it, and sets TimedOut. Tools build on this so their
// own never-throw contract holds.
package execx

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// DefaultTimeout bounds commands whose caller passed no timeout.
const DefaultTimeout = 10 * time.Second

// Result is the outcome of one command run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Run executes an argv-style command (no shell interpretation).
func Run(ctx context.Context, argv []string, timeout time.Duration) Result {
	if len(argv) == 0 {
		return Result{ExitCode: -1, Stderr: "empty command"}
	}
	return execute(ctx, timeout, func(cctx context.Context) *exec.Cmd {
		return exec.CommandContext(cctx, argv[0], argv[1:]...)
	})
}

// RunShell executes a command line through the platform shell: the user's
// login shell on POSIX, a non-interactive PowerShell on Windows.
func RunShell(ctx context.Context, command string, timeout time.Duration) Result {
	return execute(ctx, timeout, func(cctx context.Context) *exec.Cmd {
		return shellCommand(cctx, command)
	})
}

func execute(ctx context.Context, timeout time.Duration, build func(context.Context) *exec.Cmd) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := build(cctx)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()

	result := Result{
		Stdout:   decodeOutput(stdout.Bytes()),
		Stderr:   decodeOutput(stderr.Bytes()),
		TimedOut: errors.Is(cctx.Err(), context.DeadlineExceeded),
	}

	switch {
	case err == nil:
		result.ExitCode = 0
	case cmd.ProcessState != nil:
		result.ExitCode = cmd.ProcessState.ExitCode()
	default:
		// The process never started.
		result.ExitCode = -1
		if result.Stderr == "" {
			result.Stderr = err.Error()
		}
	}
	if result.ExitCode == 0 && result.TimedOut {
		result.ExitCode = -1
	}
	return result
}
