package netdiag

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/netmedic/netmedic/internal/tools"
	"github.com/netmedic/netmedic/pkg/models"
)

var cleanTempFilesDef = models.ToolDefinition{
	Name:        "clean_temp_files",
	DisplayName: "Clean Temp Files",
	Description: "Delete temp-directory entries older than a cutoff and report the space freed. Supports a dry run that only lists candidates.",
	Category:    models.ToolCategorySystem,
	OSILayer:    7,
	Mutating:    true,
	Parameters: []models.ToolParameter{
		{Name: "older_than_days", Type: models.ParamNumber, Description: "Only remove entries not modified for this many days.", Default: 7},
		{Name: "dry_run", Type: models.ParamBoolean, Description: "List what would be removed without deleting anything.", Default: false},
	},
}

func (s *Suite) cleanTempFiles(ctx context.Context, args map[string]any) (*models.DiagnosticResult, error) {
	var input struct {
		OlderThanDays float64 `json:"older_than_days"`
		DryRun        bool    `json:"dry_run"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return s.failure("clean_temp_files", err.Error()), nil
	}
	if input.OlderThanDays <= 0 {
		input.OlderThanDays = 7
	}
	cutoff := time.Now().Add(-time.Duration(input.OlderThanDays * 24 * float64(time.Hour)))

	dirs := s.tempDirs
	if len(dirs) == 0 {
		dirs = platformTempDirs(s.goos)
	}

	var (
		candidates  []string
		removed     int
		failed      int
		freedBytes  int64
		scannedDirs []string
	)
	for _, dir := range dirs {
		if tools.IsProtectedPath(dir) {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		scannedDirs = append(scannedDirs, dir)
		for _, entry := range entries {
			if ctx.Err() != nil {
				return s.failure("clean_temp_files", "canceled"), nil
			}
			full := filepath.Join(dir, entry.Name())
			if tools.IsProtectedPath(full) {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			size := entrySize(full, info)
			if input.DryRun {
				candidates = append(candidates, full)
				freedBytes += size
				continue
			}
			if err := os.RemoveAll(full); err != nil {
				failed++
				continue
			}
			// Confirm the entry is actually gone before counting it.
			if _, err := os.Lstat(full); err == nil {
				failed++
				continue
			}
			removed++
			freedBytes += size
		}
	}

	if len(scannedDirs) == 0 {
		return s.failure("clean_temp_files", "no temp directory was readable",
			"The temp locations may need elevated privileges to modify."), nil
	}

	data := map[string]any{
		"directories":     scannedDirs,
		"older_than_days": input.OlderThanDays,
		"freed_bytes":     freedBytes,
		"freed_mb":        round1(float64(freedBytes) / (1 << 20)),
	}
	if input.DryRun {
		data["dry_run"] = true
		data["candidates"] = len(candidates)
		if len(candidates) > 20 {
			candidates = candidates[:20]
		}
		data["sample"] = candidates
		return s.success("clean_temp_files", data), nil
	}

	data["removed"] = removed
	data["failed"] = failed
	result := s.success("clean_temp_files", data)
	if failed > 0 {
		result.Suggestions = append(result.Suggestions,
			fmt.Sprintf("%d entries could not be removed; they are likely held open by running programs.", failed))
	}
	if removed == 0 && failed == 0 {
		result.Suggestions = append(result.Suggestions,
			"Nothing old enough to remove. Lower older_than_days to clean more aggressively.")
	}
	return result, nil
}

func platformTempDirs(goos string) []string {
	switch goos {
	case "windows":
		dirs := []string{os.TempDir()}
		if windir := os.Getenv("SystemRoot"); windir != "" {
			dirs = append(dirs, filepath.Join(windir, "Temp"))
		}
		return dirs
	default:
		return []string{os.TempDir(), "/var/tmp"}
	}
}

// entrySize totals a file's size, or a directory tree's, for the freed
// space report. Walk errors just stop the count for that subtree.
func entrySize(path string, info fs.FileInfo) int64 {
	if !info.IsDir() {
		return info.Size()
	}
	var total int64
	filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if fi, err := d.Info(); err == nil && !fi.IsDir() {
			total += fi.Size()
		}
		return nil
	})
	return total
}
