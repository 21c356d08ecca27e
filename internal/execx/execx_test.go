package execx

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestRunCapturesOutput(t *testing.T) {
	skipWithoutShell(t)
	res := Run(context.Background(), []string{"echo", "hello"}, time.Second)
	if res.ExitCode != 0 || res.TimedOut {
		t.Fatalf("result = %+v", res)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestRunEmptyCommand(t *testing.T) {
	res := Run(context.Background(), nil, time.Second)
	if res.ExitCode != -1 || res.Stderr != "empty command" {
		t.Errorf("result = %+v", res)
	}
}

func TestRunMissingBinary(t *testing.T) {
	res := Run(context.Background(), []string{"no-such-binary-exists-here"}, time.Second)
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
	if res.Stderr == "" {
		t.Error("Stderr empty, want the launch error")
	}
}

func TestRunNonZeroExit(t *testing.T) {
	skipWithoutShell(t)
	res := RunShell(context.Background(), "echo oops >&2; exit 3", time.Second)
	if res.ExitCode != 3 || res.TimedOut {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Stderr, "oops") {
		t.Errorf("Stderr = %q", res.Stderr)
	}
}

func TestRunTimeoutKillsChild(t *testing.T) {
	skipWithoutShell(t)
	start := time.Now()
	res := Run(context.Background(), []string{"sleep", "30"}, 200*time.Millisecond)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("run took %s, child not killed", elapsed)
	}
	if !res.TimedOut {
		t.Errorf("result = %+v, want TimedOut", res)
	}
	if res.ExitCode == 0 {
		t.Errorf("ExitCode = 0 despite timeout")
	}
}

func TestRunShellPipes(t *testing.T) {
	skipWithoutShell(t)
	res := RunShell(context.Background(), "printf 'a\\nb\\nc\\n' | wc -l", time.Second)
	if res.ExitCode != 0 {
		t.Fatalf("result = %+v", res)
	}
	if strings.TrimSpace(res.Stdout) != "3" {
		t.Errorf("Stdout = %q, want 3", res.Stdout)
	}
}
