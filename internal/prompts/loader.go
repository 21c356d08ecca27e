// Package prompts loads named prompt texts from a resource directory.
// Files are cached after the first read; an optional watcher drops the
// cache when the directory changes so edits land without a restart.
package prompts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Ext is the file extension prompt files carry: <name>.md under the
// prompt directory.
const Ext = ".md"

const watchDebounce = 250 * time.Millisecond

// DefaultSystemPrompt seeds sessions when no prompt directory is
// configured or the named file is missing.
const DefaultSystemPrompt = `You are a network diagnostics assistant running on the user's machine.

Ground every answer in observation: run the relevant diagnostic tools before
concluding anything about connectivity, DNS, the gateway, WiFi, or IP
configuration. Work from the lowest plausible layer upward, explain what each
result means in plain language, and finish with concrete next steps. When a
fix requires changing the machine's state, say what the change does before
suggesting it. If the tools cannot explain the problem, say so instead of
guessing.`

// builtin backs prompt names that must always resolve.
var builtin = map[string]string{
	"system": DefaultSystemPrompt,
}

// Loader reads prompts from one directory with caching.
type Loader struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]string

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewLoader creates a loader over dir. An empty dir serves only the
// built-in prompts.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		dir:    dir,
		logger: logger.With("component", "prompts"),
		cache:  make(map[string]string),
	}
}

// Prompt returns the named prompt text. Lookup order: cache, then
// <dir>/<name>.md, then the built-in fallback. Only a name with neither
// a file nor a fallback errors.
func (l *Loader) Prompt(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid prompt name %q", name)
	}

	l.mu.RLock()
	text, ok := l.cache[name]
	l.mu.RUnlock()
	if ok {
		return text, nil
	}

	if l.dir != "" {
		raw, err := os.ReadFile(filepath.Join(l.dir, name+Ext))
		if err == nil {
			text = strings.TrimRight(string(raw), "\n")
			l.mu.Lock()
			l.cache[name] = text
			l.mu.Unlock()
			return text, nil
		}
		if !os.IsNotExist(err) {
			l.logger.Warn("prompt file unreadable", "prompt", name, "error", err)
		}
	}

	if text, ok := builtin[name]; ok {
		return text, nil
	}
	return "", fmt.Errorf("prompt %q not found", name)
}

// Watch invalidates the cache when anything under the prompt directory
// changes. It is a no-op without a directory and idempotent otherwise.
func (l *Loader) Watch(ctx context.Context) error {
	if l.dir == "" {
		return nil
	}

	l.watchMu.Lock()
	if l.watcher != nil {
		l.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.watchMu.Unlock()
		return err
	}
	if err := watcher.Add(l.dir); err != nil {
		l.watchMu.Unlock()
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}
	l.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	l.watchCancel = cancel
	l.watchMu.Unlock()

	l.watchWg.Add(1)
	go l.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the watcher. The loader keeps serving from cache and disk.
func (l *Loader) Close() error {
	l.watchMu.Lock()
	if l.watchCancel != nil {
		l.watchCancel()
		l.watchCancel = nil
	}
	watcher := l.watcher
	l.watcher = nil
	l.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	l.watchWg.Wait()
	return nil
}

func (l *Loader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer l.watchWg.Done()

	var timerMu sync.Mutex
	var timer *time.Timer
	scheduleInvalidate := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, l.invalidate)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleInvalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("prompt watch error", "error", err)
		}
	}
}

func (l *Loader) invalidate() {
	l.mu.Lock()
	dropped := len(l.cache)
	l.cache = make(map[string]string)
	l.mu.Unlock()
	if dropped > 0 {
		l.logger.Debug("prompt cache invalidated", "entries", dropped)
	}
}
