package sidecar

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// pidPayload is what the PID file carries. The binary path is recorded so
// a human inspecting the file can tell what was spawned.
type pidPayload struct {
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"created_at"`
	Binary    string    `json:"binary"`
}

func writePIDFile(path string, pid int, binary string) error {
	payload := pidPayload{
		PID:       pid,
		CreatedAt: time.Now().UTC(),
		Binary:    binary,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pid file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pid file dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

func readPIDFile(path string) (pidPayload, error) {
	var payload pidPayload
	data, err := os.ReadFile(path)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("parse pid file: %w", err)
	}
	return payload, nil
}

func removePIDFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove pid file", "path", path, "error", err)
	}
}

// ReapOrphan terminates a previously spawned server whose supervisor died
// without stopping it. The stale PID file is removed either way. It
// reports whether a live process was found and put down.
func ReapOrphan(path string, grace time.Duration, logger *slog.Logger) bool {
	if path == "" {
		return false
	}
	payload, err := readPIDFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("unreadable pid file, removing", "path", path, "error", err)
			removePIDFile(path)
		}
		return false
	}
	if !processAlive(payload.PID) {
		removePIDFile(path)
		return false
	}

	logger.Info("terminating orphaned sidecar",
		"pid", payload.PID,
		"spawned_at", payload.CreatedAt)
	proc, err := os.FindProcess(payload.PID)
	if err == nil {
		if err := terminateProcess(proc); err != nil {
			logger.Warn("terminate orphan failed", "pid", payload.PID, "error", err)
		}
		deadline := time.Now().Add(grace)
		for processAlive(payload.PID) && time.Now().Before(deadline) {
			time.Sleep(100 * time.Millisecond)
		}
		if processAlive(payload.PID) {
			if err := killProcess(proc); err != nil {
				logger.Warn("kill orphan failed", "pid", payload.PID, "error", err)
			}
		}
	}
	removePIDFile(path)
	return true
}
