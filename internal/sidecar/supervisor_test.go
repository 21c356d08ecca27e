package sidecar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeFakeBinary drops a shell script where Locate expects the bundled
// binary, so spawn paths can be exercised without a real server install.
func writeFakeBinary(t *testing.T, resourcesDir, body string) string {
	t.Helper()
	path := filepath.Join(resourcesDir, platformDir(), exeName())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestNewSupervisorDefaults(t *testing.T) {
	sup := NewSupervisor(Config{})
	if sup.BaseURL() != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", sup.BaseURL(), DefaultBaseURL)
	}

	sup = NewSupervisor(Config{BaseURL: "http://localhost:9999/"})
	if sup.BaseURL() != "http://localhost:9999" {
		t.Errorf("BaseURL = %q, trailing slash should be trimmed", sup.BaseURL())
	}
}

func TestProbe(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/tags" {
				t.Errorf("path = %s, want /api/tags", r.URL.Path)
			}
			fmt.Fprint(w, `{"models":[]}`)
		}))
		defer server.Close()

		sup := NewSupervisor(Config{BaseURL: server.URL, Logger: quietLogger()})
		if !sup.Probe(context.Background()) {
			t.Error("Probe = false, want true for 200 response")
		}
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		sup := NewSupervisor(Config{BaseURL: server.URL, Logger: quietLogger()})
		if sup.Probe(context.Background()) {
			t.Error("Probe = true, want false for 500 response")
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		sup := NewSupervisor(Config{BaseURL: url, Logger: quietLogger()})
		if sup.Probe(context.Background()) {
			t.Error("Probe = true, want false when nothing listens")
		}
	})
}

func TestStartAdoptsHealthyServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[]}`)
	}))
	defer server.Close()

	sup := NewSupervisor(Config{BaseURL: server.URL, Logger: quietLogger()})
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	st := sup.Status(context.Background())
	if !st.Healthy {
		t.Error("Status.Healthy = false, want true")
	}
	if st.OwnsProcess {
		t.Error("Status.OwnsProcess = true, adopted servers are not owned")
	}

	// Stopping an adopted server is a no-op.
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if !sup.Probe(context.Background()) {
		t.Error("adopted server should still be running after Stop")
	}
}

func TestLocate(t *testing.T) {
	t.Run("bundled binary", func(t *testing.T) {
		resources := t.TempDir()
		want := writeFakeBinary(t, resources, "exit 0")

		sup := NewSupervisor(Config{ResourcesDir: resources, Logger: quietLogger()})
		got, err := sup.Locate()
		if err != nil {
			t.Fatalf("Locate error: %v", err)
		}
		if got != want {
			t.Errorf("Locate = %q, want %q", got, want)
		}
	})

	t.Run("path fallback", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("requires a POSIX shell")
		}
		pathDir := t.TempDir()
		want := filepath.Join(pathDir, binaryName)
		if err := os.WriteFile(want, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
			t.Fatalf("write script: %v", err)
		}
		t.Setenv("PATH", pathDir)

		sup := NewSupervisor(Config{ResourcesDir: t.TempDir(), Logger: quietLogger()})
		got, err := sup.Locate()
		if err != nil {
			t.Fatalf("Locate error: %v", err)
		}
		if got != want {
			t.Errorf("Locate = %q, want %q", got, want)
		}
	})

	t.Run("not found", func(t *testing.T) {
		t.Setenv("PATH", t.TempDir())

		sup := NewSupervisor(Config{ResourcesDir: t.TempDir(), Logger: quietLogger()})
		_, err := sup.Locate()
		if !errors.Is(err, ErrBinaryNotFound) {
			t.Fatalf("Locate error = %v, want ErrBinaryNotFound", err)
		}
		if !strings.Contains(err.Error(), platformDir()) {
			t.Errorf("error %q should name the searched bundle dir", err)
		}
	})
}

func TestStartSpawnsAndStops(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	// Unhealthy on the first probe so Start spawns, healthy afterwards.
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"models":[]}`)
	}))
	defer server.Close()

	resources := t.TempDir()
	binary := writeFakeBinary(t, resources, "exec sleep 30")
	pidFile := filepath.Join(t.TempDir(), "ollama.pid")

	sup := NewSupervisor(Config{
		BaseURL:      server.URL,
		ResourcesDir: resources,
		PIDFile:      pidFile,
		StartTimeout: 5 * time.Second,
		PollInterval: 50 * time.Millisecond,
		StopGrace:    2 * time.Second,
		Logger:       quietLogger(),
	})
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	st := sup.Status(context.Background())
	if !st.OwnsProcess {
		t.Fatal("Status.OwnsProcess = false, want true after spawning")
	}
	if st.PID <= 0 {
		t.Errorf("Status.PID = %d, want a live pid", st.PID)
	}
	if st.Binary != binary {
		t.Errorf("Status.Binary = %q, want %q", st.Binary, binary)
	}

	payload, err := readPIDFile(pidFile)
	if err != nil {
		t.Fatalf("readPIDFile error: %v", err)
	}
	if payload.PID != st.PID {
		t.Errorf("pid file PID = %d, want %d", payload.PID, st.PID)
	}
	if payload.Binary != binary {
		t.Errorf("pid file Binary = %q, want %q", payload.Binary, binary)
	}

	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if processAlive(st.PID) {
		t.Error("child still alive after Stop")
	}
	if _, err := os.Stat(pidFile); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("pid file should be removed after Stop, stat err = %v", err)
	}
	if st := sup.Status(context.Background()); st.OwnsProcess {
		t.Error("Status.OwnsProcess = true after Stop")
	}
}

func TestStartReportsChildExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	resources := t.TempDir()
	writeFakeBinary(t, resources, `echo "bind: address already in use" >&2; exit 1`)
	pidFile := filepath.Join(t.TempDir(), "ollama.pid")

	sup := NewSupervisor(Config{
		BaseURL:      server.URL,
		ResourcesDir: resources,
		PIDFile:      pidFile,
		StartTimeout: 5 * time.Second,
		PollInterval: 50 * time.Millisecond,
		Logger:       quietLogger(),
	})
	err := sup.Start(context.Background())
	if err == nil {
		t.Fatal("expected error when the child exits during startup")
	}
	if !strings.Contains(err.Error(), "exited during startup") {
		t.Errorf("error %q should say the child exited", err)
	}
	if !strings.Contains(err.Error(), "address already in use") {
		t.Errorf("error %q should carry the child's stderr", err)
	}
	if _, statErr := os.Stat(pidFile); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("pid file should be removed after failed start, stat err = %v", statErr)
	}
}

func TestStartKillsChildWhenNeverHealthy(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	resources := t.TempDir()
	childPID := filepath.Join(t.TempDir(), "child.pid")
	writeFakeBinary(t, resources, fmt.Sprintf(`echo $$ > %q; exec sleep 30`, childPID))
	pidFile := filepath.Join(t.TempDir(), "ollama.pid")

	sup := NewSupervisor(Config{
		BaseURL:      server.URL,
		ResourcesDir: resources,
		PIDFile:      pidFile,
		StartTimeout: 400 * time.Millisecond,
		PollInterval: 50 * time.Millisecond,
		Logger:       quietLogger(),
	})
	err := sup.Start(context.Background())
	if err == nil {
		t.Fatal("expected error when the server never becomes healthy")
	}
	if !strings.Contains(err.Error(), "not healthy after") {
		t.Errorf("error %q should report the startup timeout", err)
	}

	data, readErr := os.ReadFile(childPID)
	if readErr != nil {
		t.Fatalf("child pid not recorded: %v", readErr)
	}
	var pid int
	if _, scanErr := fmt.Sscan(strings.TrimSpace(string(data)), &pid); scanErr != nil {
		t.Fatalf("parse child pid: %v", scanErr)
	}
	if processAlive(pid) {
		t.Errorf("child %d still alive after failed start", pid)
	}
	if _, statErr := os.Stat(pidFile); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("pid file should be removed after failed start, stat err = %v", statErr)
	}
}

func TestReapOrphan(t *testing.T) {
	t.Run("terminates live orphan", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("requires a POSIX shell")
		}
		cmd := exec.Command("sleep", "30")
		if err := cmd.Start(); err != nil {
			t.Fatalf("start orphan: %v", err)
		}
		defer cmd.Process.Kill()

		path := filepath.Join(t.TempDir(), "ollama.pid")
		if err := writePIDFile(path, cmd.Process.Pid, "sleep"); err != nil {
			t.Fatalf("writePIDFile error: %v", err)
		}

		if !ReapOrphan(path, 300*time.Millisecond, quietLogger()) {
			t.Error("ReapOrphan should report a live orphan was put down")
		}

		// Wait reaps the zombie so liveness can be checked.
		cmd.Wait()
		if processAlive(cmd.Process.Pid) {
			t.Error("orphan still alive after reap")
		}
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("pid file should be removed, stat err = %v", err)
		}
	})

	t.Run("removes stale file for dead pid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ollama.pid")
		if err := writePIDFile(path, 999999999, "ollama"); err != nil {
			t.Fatalf("writePIDFile error: %v", err)
		}
		if ReapOrphan(path, time.Second, quietLogger()) {
			t.Error("ReapOrphan should not report a kill for a dead pid")
		}
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("stale pid file should be removed, stat err = %v", err)
		}
	})

	t.Run("removes unreadable file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ollama.pid")
		if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		ReapOrphan(path, time.Second, quietLogger())
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("garbage pid file should be removed, stat err = %v", err)
		}
	})

	t.Run("missing file is fine", func(t *testing.T) {
		if ReapOrphan(filepath.Join(t.TempDir(), "nope.pid"), time.Second, quietLogger()) {
			t.Error("ReapOrphan should report nothing to do")
		}
	})
}

func TestTailWriterKeepsTail(t *testing.T) {
	w := &tailWriter{limit: 10}
	fmt.Fprint(w, "0123456789abcdef")
	if got := w.String(); got != "6789abcdef" {
		t.Errorf("String() = %q, want the last 10 bytes", got)
	}
}

func TestPlatformDir(t *testing.T) {
	dir := platformDir()
	if strings.Contains(dir, "amd64") {
		t.Errorf("platformDir() = %q, amd64 should map to x64", dir)
	}
	if runtime.GOOS == "windows" && !strings.HasPrefix(dir, "win32-") {
		t.Errorf("platformDir() = %q, want win32 prefix on windows", dir)
	}
	if runtime.GOOS == "linux" && !strings.HasPrefix(dir, "linux-") {
		t.Errorf("platformDir() = %q, want linux prefix on linux", dir)
	}
}
