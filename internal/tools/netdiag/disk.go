package netdiag

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/netmedic/netmedic/pkg/models"
)

var checkDiskSpaceDef = models.ToolDefinition{
	Name:        "check_disk_space",
	DisplayName: "Check Disk Space",
	Description: "Report filesystem usage per mounted volume. A full disk breaks DNS caches, updates, and browsing in surprising ways.",
	Category:    models.ToolCategorySystem,
	OSILayer:    7,
	Parameters:  []models.ToolParameter{},
}

func (s *Suite) checkDiskSpace(ctx context.Context, _ map[string]any) (*models.DiagnosticResult, error) {
	switch s.goos {
	case "linux", "darwin":
		res := s.run(ctx, []string{"df", "-P", "-k"}, commandTimeout)
		if res.ExitCode != 0 {
			return s.failure("check_disk_space", strings.TrimSpace(firstNonEmpty(res.Stderr, "df failed"))), nil
		}
		volumes := parseDF(res.Stdout)
		if len(volumes) == 0 {
			return s.failure("check_disk_space", "no volumes found in df output"), nil
		}
		return s.diskResult(volumes, res.Stdout), nil
	case "windows":
		res := s.shell(ctx, `Get-PSDrive -PSProvider FileSystem | Select-Object Name,Used,Free | ConvertTo-Json`, commandTimeout)
		if res.ExitCode != 0 {
			return s.failure("check_disk_space", strings.TrimSpace(firstNonEmpty(res.Stderr, "Get-PSDrive failed"))), nil
		}
		volumes, err := parsePSDrives(res.Stdout)
		if err != nil {
			return s.failure("check_disk_space", fmt.Sprintf("parse drive list: %v", err)), nil
		}
		return s.diskResult(volumes, res.Stdout), nil
	default:
		return models.Unsupported("check_disk_space", s.goos), nil
	}
}

func (s *Suite) diskResult(volumes []map[string]any, raw string) *models.DiagnosticResult {
	data := map[string]any{"volumes": volumes}
	result := s.success("check_disk_space", data)
	result.RawOutput = raw
	for _, v := range volumes {
		pct, _ := v["used_percent"].(float64)
		if pct >= 90 {
			result.Suggestions = append(result.Suggestions,
				fmt.Sprintf("%v is %.0f%% full. Run clean_temp_files or remove large downloads.", v["mount"], pct))
		}
	}
	return result
}

// parseDF reads POSIX df -P -k output. Pseudo filesystems (tmpfs, proc)
// are skipped; only device-backed sources count.
func parseDF(out string) []map[string]any {
	var volumes []map[string]any
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if i == 0 {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 6 || !strings.HasPrefix(fields[0], "/") {
			continue
		}
		totalKB, err1 := strconv.ParseFloat(fields[1], 64)
		usedKB, err2 := strconv.ParseFloat(fields[2], 64)
		freeKB, err3 := strconv.ParseFloat(fields[3], 64)
		if err1 != nil || err2 != nil || err3 != nil || totalKB == 0 {
			continue
		}
		volumes = append(volumes, map[string]any{
			"mount":        strings.Join(fields[5:], " "),
			"filesystem":   fields[0],
			"total_gb":     roundGB(totalKB * 1024),
			"used_gb":      roundGB(usedKB * 1024),
			"free_gb":      roundGB(freeKB * 1024),
			"used_percent": round1(usedKB / totalKB * 100),
		})
	}
	return volumes
}

// parsePSDrives reads the ConvertTo-Json form of Get-PSDrive. PowerShell
// emits a bare object for a single drive and an array otherwise.
func parsePSDrives(out string) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, fmt.Errorf("empty output")
	}

	type psDrive struct {
		Name string  `json:"Name"`
		Used float64 `json:"Used"`
		Free float64 `json:"Free"`
	}
	var drives []psDrive
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &drives); err != nil {
			return nil, err
		}
	} else {
		var one psDrive
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return nil, err
		}
		drives = []psDrive{one}
	}

	var volumes []map[string]any
	for _, d := range drives {
		total := d.Used + d.Free
		if d.Name == "" || total == 0 {
			continue
		}
		volumes = append(volumes, map[string]any{
			"mount":        d.Name + ":",
			"total_gb":     roundGB(total),
			"used_gb":      roundGB(d.Used),
			"free_gb":      roundGB(d.Free),
			"used_percent": round1(d.Used / total * 100),
		})
	}
	if len(volumes) == 0 {
		return nil, fmt.Errorf("no usable drives in output")
	}
	return volumes, nil
}

func roundGB(bytes float64) float64 {
	return round1(bytes / (1 << 30))
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
