package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// Preferences are small durable choices that outlive a session but do
// not belong in the config file. The file is hand-editable; parsing
// tolerates comments and trailing commas.
type Preferences struct {
	// PreferredBackend overrides llm.backend when set.
	PreferredBackend string `json:"preferred_backend,omitempty"`

	// LastModel is the sidecar model most recently used.
	LastModel string `json:"last_model,omitempty"`
}

// LoadPreferences reads the preferences file. A missing file yields zero
// preferences; a file that fails to parse is an error so a typo is not
// silently discarded.
func LoadPreferences(path string) (Preferences, error) {
	var prefs Preferences
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return prefs, nil
		}
		return prefs, fmt.Errorf("read preferences: %w", err)
	}
	if err := json5.Unmarshal(data, &prefs); err != nil {
		return Preferences{}, fmt.Errorf("parse preferences %s: %w", path, err)
	}
	return prefs, nil
}

// SavePreferences writes the file atomically so a crash mid-write never
// leaves a truncated file behind.
func SavePreferences(path string, prefs Preferences) error {
	data, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace preferences: %w", err)
	}
	return nil
}
