package prompts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writePrompt(t *testing.T, dir, name, text string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+Ext), []byte(text), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
}

func TestPromptReadsAndCaches(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "system", "be helpful\n")
	l := NewLoader(dir, nil)

	got, err := l.Prompt("system")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if got != "be helpful" {
		t.Errorf("Prompt = %q", got)
	}

	// Without a watcher the cached text survives a file change.
	writePrompt(t, dir, "system", "be terse")
	got, err = l.Prompt("system")
	if err != nil {
		t.Fatalf("Prompt(cached): %v", err)
	}
	if got != "be helpful" {
		t.Errorf("cache bypassed: %q", got)
	}
}

func TestPromptFallsBackToBuiltin(t *testing.T) {
	l := NewLoader("", nil)
	got, err := l.Prompt("system")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if got != DefaultSystemPrompt {
		t.Errorf("Prompt = %q, want builtin", got)
	}

	dir := t.TempDir()
	l = NewLoader(dir, nil)
	if got, err = l.Prompt("system"); err != nil || got != DefaultSystemPrompt {
		t.Errorf("missing file fallback = %q (%v)", got, err)
	}
}

func TestPromptUnknownNameErrors(t *testing.T) {
	l := NewLoader(t.TempDir(), nil)
	if _, err := l.Prompt("no_such_prompt"); err == nil {
		t.Error("unknown prompt accepted")
	}
	if _, err := l.Prompt("../escape"); err == nil {
		t.Error("path traversal accepted")
	}
	if _, err := l.Prompt(""); err == nil {
		t.Error("empty name accepted")
	}
}

func TestWatchInvalidatesCache(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "system", "first")
	l := NewLoader(dir, nil)
	t.Cleanup(func() { _ = l.Close() })

	if err := l.Watch(context.Background()); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if got, _ := l.Prompt("system"); got != "first" {
		t.Fatalf("Prompt = %q", got)
	}

	writePrompt(t, dir, "system", "second")

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := l.Prompt("system")
		if err != nil {
			t.Fatalf("Prompt: %v", err)
		}
		if got == "second" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("prompt still %q after reload window", got)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	l := NewLoader(t.TempDir(), nil)
	if err := l.Watch(context.Background()); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close(second): %v", err)
	}
}
