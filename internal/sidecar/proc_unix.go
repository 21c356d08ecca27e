//go:build !windows

package sidecar

import (
	"os"
	"os/exec"
	"syscall"
)

// processAlive reports whether pid refers to a live process. Signal 0
// probes existence without delivering anything.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// terminateProcess asks the process to exit. The caller escalates to
// killProcess after a grace period.
func terminateProcess(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}

func killProcess(proc *os.Process) error {
	return proc.Kill()
}

// hideConsole is a no-op on POSIX.
func hideConsole(cmd *exec.Cmd) {}
