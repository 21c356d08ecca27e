//go:build windows

package sidecar

import (
	"os"
	"os/exec"
	"syscall"
)

const createNoWindow = 0x08000000

// processAlive reports whether pid refers to a live process. On Windows
// opening the process handle fails once the process is gone.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	defer proc.Release()
	return proc.Signal(syscall.Signal(0)) == nil
}

// terminateProcess stops the process. Windows has no graceful signal for
// console-less children, so this is equivalent to a kill.
func terminateProcess(proc *os.Process) error {
	return proc.Kill()
}

func killProcess(proc *os.Process) error {
	return proc.Kill()
}

// hideConsole keeps the spawned server from flashing a console window.
func hideConsole(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: createNoWindow,
	}
}
