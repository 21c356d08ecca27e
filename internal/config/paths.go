package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigName is the config file looked up when --config is not
// given.
const DefaultConfigName = "netmedic.yaml"

// Paths is the on-disk state layout. Everything netmedic persists lives
// under Root.
type Paths struct {
	Root         string
	ConfigFile   string
	DatabaseFile string
	LogDir       string
	ModelsDir    string
	PIDFile      string
	PrefsFile    string
}

// DefaultPaths lays out state under ~/.netmedic.
func DefaultPaths() Paths {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		home = "."
	}
	return PathsUnder(filepath.Join(home, ".netmedic"))
}

// PathsUnder lays out state under an explicit root, for tests and
// portable installs.
func PathsUnder(root string) Paths {
	return Paths{
		Root:         root,
		ConfigFile:   filepath.Join(root, DefaultConfigName),
		DatabaseFile: filepath.Join(root, "netmedic.db"),
		LogDir:       filepath.Join(root, "logs"),
		ModelsDir:    filepath.Join(root, "models"),
		PIDFile:      filepath.Join(root, "ollama.pid"),
		PrefsFile:    filepath.Join(root, "preferences.json"),
	}
}

// EnsureDirs creates the directories the layout needs.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.Root, p.LogDir, p.ModelsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// LogFile returns the date-named log file for t.
func (p Paths) LogFile(t time.Time) string {
	return filepath.Join(p.LogDir, "netmedic-"+t.Format("2006-01-02")+".log")
}
