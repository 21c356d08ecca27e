package netdiag

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeAgedFile(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("junk"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

func TestCleanTempFilesRemovesOldEntries(t *testing.T) {
	dir := t.TempDir()
	old := writeAgedFile(t, dir, "stale.log", 30*24*time.Hour)
	fresh := writeAgedFile(t, dir, "fresh.log", time.Hour)

	s := newTestSuite("linux", &script{})
	s.tempDirs = []string{dir}

	result, err := s.cleanTempFiles(context.Background(), map[string]any{"older_than_days": float64(7)})
	if err != nil {
		t.Fatalf("cleanTempFiles() error: %v", err)
	}
	if !result.Success {
		t.Fatalf("cleanTempFiles() failed: %s", result.Error)
	}
	if result.Data["removed"] != 1 {
		t.Errorf("removed = %v, want 1", result.Data["removed"])
	}
	if _, err := os.Lstat(old); !os.IsNotExist(err) {
		t.Error("stale file should be gone")
	}
	if _, err := os.Lstat(fresh); err != nil {
		t.Error("fresh file should survive")
	}
}

func TestCleanTempFilesRemovesOldDirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "old-build")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "artifact.o"), []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	stamp := time.Now().Add(-30 * 24 * time.Hour)
	if err := os.Chtimes(sub, stamp, stamp); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	s := newTestSuite("linux", &script{})
	s.tempDirs = []string{dir}

	result, err := s.cleanTempFiles(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("cleanTempFiles() error: %v", err)
	}
	if result.Data["removed"] != 1 {
		t.Errorf("removed = %v, want 1", result.Data["removed"])
	}
	freed, _ := result.Data["freed_bytes"].(int64)
	if freed != 10 {
		t.Errorf("freed_bytes = %v, want 10", freed)
	}
	if _, err := os.Lstat(sub); !os.IsNotExist(err) {
		t.Error("old directory should be gone")
	}
}

func TestCleanTempFilesDryRun(t *testing.T) {
	dir := t.TempDir()
	old := writeAgedFile(t, dir, "stale.log", 30*24*time.Hour)

	s := newTestSuite("linux", &script{})
	s.tempDirs = []string{dir}

	result, err := s.cleanTempFiles(context.Background(), map[string]any{"dry_run": true})
	if err != nil {
		t.Fatalf("cleanTempFiles() error: %v", err)
	}
	if !result.Success {
		t.Fatalf("dry run failed: %s", result.Error)
	}
	if result.Data["candidates"] != 1 {
		t.Errorf("candidates = %v, want 1", result.Data["candidates"])
	}
	if _, err := os.Lstat(old); err != nil {
		t.Error("dry run must not delete anything")
	}
}

func TestCleanTempFilesSkipsProtectedRoots(t *testing.T) {
	s := newTestSuite("linux", &script{})
	s.tempDirs = []string{"/etc"}

	result, err := s.cleanTempFiles(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("cleanTempFiles() error: %v", err)
	}
	if result.Success {
		t.Error("a protected-only directory list should fail, not scan /etc")
	}
}

func TestCleanTempFilesNothingOldEnough(t *testing.T) {
	dir := t.TempDir()
	writeAgedFile(t, dir, "fresh.log", time.Hour)

	s := newTestSuite("linux", &script{})
	s.tempDirs = []string{dir}

	result, err := s.cleanTempFiles(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("cleanTempFiles() error: %v", err)
	}
	if !result.Success {
		t.Fatalf("cleanTempFiles() failed: %s", result.Error)
	}
	if result.Data["removed"] != 0 {
		t.Errorf("removed = %v, want 0", result.Data["removed"])
	}
	if len(result.Suggestions) == 0 {
		t.Error("a no-op clean should suggest lowering the cutoff")
	}
}
