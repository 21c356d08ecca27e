// Package sidecar manages a local Ollama server on the user's machine:
// finding the binary, adopting an already-running instance, spawning and
// supervising one when none is up, and managing the models it serves.
package sidecar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBaseURL is where Ollama listens unless configured otherwise.
	DefaultBaseURL = "http://127.0.0.1:11434"

	defaultStartTimeout = 30 * time.Second
	defaultProbeTimeout = 2 * time.Second
	defaultPollInterval = 500 * time.Millisecond
	defaultStopGrace    = 5 * time.Second

	binaryName = "ollama"
)

// ErrBinaryNotFound means no Ollama binary exists in the bundled resource
// directories or on PATH.
var ErrBinaryNotFound = errors.New("ollama binary not found")

// Config controls how the supervisor finds and runs the server.
type Config struct {
	// BaseURL of the server. Defaults to DefaultBaseURL.
	BaseURL string

	// ResourcesDir holds bundled platform binaries, one subdirectory per
	// platform (darwin-arm64, darwin-x64, win32-x64, linux-x64). Empty
	// means PATH lookup only.
	ResourcesDir string

	// ModelsDir overrides where the server stores model weights.
	ModelsDir string

	// PIDFile tracks a spawned server across supervisor restarts so an
	// orphan can be reaped. Empty disables the guard.
	PIDFile string

	StartTimeout time.Duration
	ProbeTimeout time.Duration
	PollInterval time.Duration
	StopGrace    time.Duration

	Logger *slog.Logger
}

// Status describes what the supervisor knows about the server.
type Status struct {
	Healthy     bool   `json:"healthy"`
	OwnsProcess bool   `json:"owns_process"`
	PID         int    `json:"pid,omitempty"`
	Binary      string `json:"binary,omitempty"`
	BaseURL     string `json:"base_url"`
}

// Supervisor starts, adopts, and stops a local Ollama server. A single
// supervisor owns at most one spawned process at a time.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	// client has no global timeout; calls bound themselves with contexts
	// so model pulls can stream for as long as they need.
	client *http.Client

	mu     sync.Mutex
	cmd    *exec.Cmd
	done   chan error
	stderr *tailWriter
	owns   bool
}

// NewSupervisor applies defaults and returns an idle supervisor. Nothing
// is probed or spawned until Start.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Supervisor{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "sidecar"),
		client: &http.Client{},
	}
}

// BaseURL returns the normalized server address.
func (s *Supervisor) BaseURL() string { return s.cfg.BaseURL }

// Probe reports whether the server answers its list-models endpoint. Any
// 2xx counts as healthy.
func (s *Supervisor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Status reports health plus whatever process state the supervisor holds.
func (s *Supervisor) Status(ctx context.Context) Status {
	st := Status{
		Healthy: s.Probe(ctx),
		BaseURL: s.cfg.BaseURL,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st.OwnsProcess = s.owns
	if s.owns && s.cmd != nil {
		st.PID = s.cmd.Process.Pid
		st.Binary = s.cmd.Path
	}
	return st
}

// Locate finds the Ollama binary: bundled platform directory first, then
// PATH. Returns ErrBinaryNotFound listing everywhere it looked.
func (s *Supervisor) Locate() (string, error) {
	var searched []string
	if s.cfg.ResourcesDir != "" {
		candidate := filepath.Join(s.cfg.ResourcesDir, platformDir(), exeName())
		searched = append(searched, candidate)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath(binaryName); err == nil {
		return path, nil
	}
	searched = append(searched, "$PATH")
	return "", fmt.Errorf("%w (searched %s)", ErrBinaryNotFound, strings.Join(searched, ", "))
}

// Start makes a server available. An already-healthy server is adopted
// without owning it; otherwise any orphan from a previous run is reaped
// and a fresh process is spawned, then polled until healthy.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.Probe(ctx) {
		s.logger.Info("adopting running sidecar", "base_url", s.cfg.BaseURL)
		return nil
	}

	s.mu.Lock()
	if s.owns {
		s.mu.Unlock()
		return errors.New("sidecar already started")
	}
	s.mu.Unlock()

	ReapOrphan(s.cfg.PIDFile, s.cfg.StopGrace, s.logger)

	binary, err := s.Locate()
	if err != nil {
		return err
	}

	stderr := &tailWriter{limit: 4096}
	cmd := exec.Command(binary, "serve")
	cmd.Env = s.environ(binary)
	cmd.Stdout = stderr
	cmd.Stderr = stderr
	hideConsole(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", binary, err)
	}
	s.logger.Info("spawned sidecar", "binary", binary, "pid", cmd.Process.Pid)

	if s.cfg.PIDFile != "" {
		if err := writePIDFile(s.cfg.PIDFile, cmd.Process.Pid, binary); err != nil {
			s.logger.Warn("pid file not written", "error", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	s.mu.Lock()
	s.cmd = cmd
	s.done = done
	s.stderr = stderr
	s.owns = true
	s.mu.Unlock()

	return s.awaitHealthy(ctx, cmd, done)
}

// awaitHealthy polls the server until it answers, the child dies, or the
// startup budget runs out. On failure the child is killed and reaped so
// nothing leaks past the error return.
func (s *Supervisor) awaitHealthy(ctx context.Context, cmd *exec.Cmd, done <-chan error) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.cfg.StartTimeout)
	defer deadline.Stop()

	for {
		select {
		case err := <-done:
			tail := s.stderrTail()
			s.teardown()
			return fmt.Errorf("sidecar exited during startup: %w\n%s", err, tail)
		case <-deadline.C:
			tail := s.stderrTail()
			s.killAndReap(cmd, done)
			return fmt.Errorf("sidecar not healthy after %s\n%s", s.cfg.StartTimeout, tail)
		case <-ctx.Done():
			s.killAndReap(cmd, done)
			return ctx.Err()
		case <-ticker.C:
			if s.Probe(ctx) {
				s.logger.Info("sidecar healthy", "base_url", s.cfg.BaseURL)
				return nil
			}
		}
	}
}

func (s *Supervisor) killAndReap(cmd *exec.Cmd, done <-chan error) {
	if err := killProcess(cmd.Process); err != nil {
		s.logger.Warn("kill failed", "pid", cmd.Process.Pid, "error", err)
	}
	<-done
	s.teardown()
}

// Stop terminates a spawned server: graceful signal, bounded wait, then a
// hard kill. Adopted servers are left running.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.owns || s.cmd == nil {
		s.mu.Unlock()
		return nil
	}
	cmd, done := s.cmd, s.done
	s.mu.Unlock()

	s.logger.Info("stopping sidecar", "pid", cmd.Process.Pid)
	if err := terminateProcess(cmd.Process); err != nil {
		s.logger.Warn("terminate failed", "error", err)
	}

	grace := time.NewTimer(s.cfg.StopGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		s.logger.Warn("sidecar ignored terminate, killing", "pid", cmd.Process.Pid)
		if err := killProcess(cmd.Process); err != nil {
			s.logger.Warn("kill failed", "error", err)
		}
		<-done
	case <-ctx.Done():
		_ = killProcess(cmd.Process)
		<-done
	}

	s.teardown()
	return nil
}

func (s *Supervisor) teardown() {
	s.mu.Lock()
	s.cmd = nil
	s.done = nil
	s.stderr = nil
	s.owns = false
	s.mu.Unlock()
	if s.cfg.PIDFile != "" {
		removePIDFile(s.cfg.PIDFile)
	}
}

// environ builds the child environment. Overrides appended after
// os.Environ take precedence.
func (s *Supervisor) environ(binary string) []string {
	env := os.Environ()
	if host := hostPort(s.cfg.BaseURL); host != "" {
		env = append(env, "OLLAMA_HOST="+host)
	}
	if s.cfg.ModelsDir != "" {
		env = append(env, "OLLAMA_MODELS="+s.cfg.ModelsDir)
	}
	if s.cfg.ResourcesDir != "" && strings.HasPrefix(binary, s.cfg.ResourcesDir) {
		// A bundled server should not phone home.
		env = append(env, "DO_NOT_TRACK=1")
	}
	return env
}

func (s *Supervisor) stderrTail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stderr == nil {
		return ""
	}
	return s.stderr.String()
}

func hostPort(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// platformDir names the bundled binary directory for this OS and arch,
// matching how the desktop build lays out its resources.
func platformDir() string {
	goos := runtime.GOOS
	if goos == "windows" {
		goos = "win32"
	}
	arch := runtime.GOARCH
	if arch == "amd64" {
		arch = "x64"
	}
	return goos + "-" + arch
}

func exeName() string {
	if runtime.GOOS == "windows" {
		return binaryName + ".exe"
	}
	return binaryName
}

// tailWriter keeps the last limit bytes written to it, so startup
// failures can surface the end of the server's output.
type tailWriter struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.limit {
		w.buf = w.buf[len(w.buf)-w.limit:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.TrimSpace(string(w.buf))
}
