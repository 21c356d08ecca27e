package netdiag

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/netmedic/netmedic/internal/tools"
	"github.com/netmedic/netmedic/pkg/models"
)

var listProcessesDef = models.ToolDefinition{
	Name:        "list_processes",
	DisplayName: "List Processes",
	Description: "List the top processes by CPU or memory use. Helps spot a runaway process starving the network stack.",
	Category:    models.ToolCategorySystem,
	OSILayer:    7,
	Parameters: []models.ToolParameter{
		{Name: "limit", Type: models.ParamNumber, Description: "How many processes to return.", Default: 10},
		{Name: "sort_by", Type: models.ParamString, Description: "Sort order.", Default: "cpu", Enum: []string{"cpu", "memory"}},
	},
}

var killProcessDef = models.ToolDefinition{
	Name:        "kill_process",
	DisplayName: "Kill Process",
	Description: "Terminate a process by name or PID. System-critical processes are refused.",
	Category:    models.ToolCategorySystem,
	OSILayer:    7,
	Mutating:    true,
	Parameters: []models.ToolParameter{
		{Name: "name", Type: models.ParamString, Description: "Process name to terminate. All matching processes are signaled."},
		{Name: "pid", Type: models.ParamNumber, Description: "Specific process ID to terminate."},
		{Name: "force", Type: models.ParamBoolean, Description: "Use SIGKILL (or forced stop) instead of a graceful terminate.", Default: false},
	},
}

func (s *Suite) listProcesses(ctx context.Context, args map[string]any) (*models.DiagnosticResult, error) {
	var input struct {
		Limit  int    `json:"limit"`
		SortBy string `json:"sort_by"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return s.failure("list_processes", err.Error()), nil
	}
	if input.Limit < 1 {
		input.Limit = 10
	}
	if input.Limit > 50 {
		input.Limit = 50
	}
	byMemory := input.SortBy == "memory"

	switch s.goos {
	case "linux", "darwin":
		argv := []string{"ps", "axo", "pid,pcpu,pmem,comm"}
		if s.goos == "linux" {
			if byMemory {
				argv = append(argv, "--sort=-pmem")
			} else {
				argv = append(argv, "--sort=-pcpu")
			}
		} else {
			if byMemory {
				argv = append(argv, "-m")
			} else {
				argv = append(argv, "-r")
			}
		}
		res := s.run(ctx, argv, commandTimeout)
		if res.ExitCode != 0 {
			return s.failure("list_processes", strings.TrimSpace(firstNonEmpty(res.Stderr, "ps failed"))), nil
		}
		procs := parsePS(res.Stdout, input.Limit)
		return s.success("list_processes", map[string]any{
			"processes": procs,
			"sorted_by": input.SortBy,
		}), nil
	case "windows":
		sortField := "CPU"
		if byMemory {
			sortField = "WorkingSet64"
		}
		cmd := fmt.Sprintf(`Get-Process | Sort-Object %s -Descending | Select-Object -First %d Id,ProcessName,CPU,WorkingSet64 | ConvertTo-Json`, sortField, input.Limit)
		res := s.shell(ctx, cmd, commandTimeout)
		if res.ExitCode != 0 {
			return s.failure("list_processes", strings.TrimSpace(firstNonEmpty(res.Stderr, "Get-Process failed"))), nil
		}
		procs, err := parseWindowsProcesses(res.Stdout)
		if err != nil {
			return s.failure("list_processes", fmt.Sprintf("parse process list: %v", err)), nil
		}
		return s.success("list_processes", map[string]any{
			"processes": procs,
			"sorted_by": input.SortBy,
		}), nil
	default:
		return models.Unsupported("list_processes", s.goos), nil
	}
}

// parsePS reads `ps axo pid,pcpu,pmem,comm` rows. The command field may
// contain spaces, so only the first three columns are split strictly.
func parsePS(out string, limit int) []map[string]any {
	var procs []map[string]any
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if i == 0 || len(procs) >= limit {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		cpu, _ := strconv.ParseFloat(fields[1], 64)
		mem, _ := strconv.ParseFloat(fields[2], 64)
		procs = append(procs, map[string]any{
			"pid":            pid,
			"cpu_percent":    cpu,
			"memory_percent": mem,
			"name":           strings.Join(fields[3:], " "),
		})
	}
	return procs
}

func parseWindowsProcesses(out string) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, fmt.Errorf("empty output")
	}
	type winProc struct {
		ID          int     `json:"Id"`
		ProcessName string  `json:"ProcessName"`
		CPU         float64 `json:"CPU"`
		WorkingSet  float64 `json:"WorkingSet64"`
	}
	var rows []winProc
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &rows); err != nil {
			return nil, err
		}
	} else {
		var one winProc
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return nil, err
		}
		rows = []winProc{one}
	}
	var procs []map[string]any
	for _, p := range rows {
		procs = append(procs, map[string]any{
			"pid":         p.ID,
			"name":        p.ProcessName,
			"cpu_seconds": round1(p.CPU),
			"memory_mb":   round1(p.WorkingSet / (1 << 20)),
		})
	}
	return procs, nil
}

func (s *Suite) killProcess(ctx context.Context, args map[string]any) (*models.DiagnosticResult, error) {
	var input struct {
		Name  string `json:"name"`
		PID   int    `json:"pid"`
		Force bool   `json:"force"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return s.failure("kill_process", err.Error()), nil
	}
	name := strings.TrimSpace(input.Name)
	if name == "" && input.PID == 0 {
		return s.failure("kill_process", "either name or pid is required"), nil
	}

	switch s.goos {
	case "linux", "darwin", "windows":
	default:
		return models.Unsupported("kill_process", s.goos), nil
	}

	// Resolve the target set and the name actually behind it. A bare PID
	// is resolved to its name first so the deny list cannot be bypassed
	// by number.
	var pids []int
	if name != "" {
		if tools.IsProtectedProcess(name) {
			return s.refusal("kill_process", name,
				fmt.Sprintf("%s is a system-critical process; killing it would break the desktop session or the OS.", name)), nil
		}
		pids = s.findPIDsByName(ctx, name)
		if len(pids) == 0 {
			return s.failure("kill_process", fmt.Sprintf("no process named %q found", name),
				"Run list_processes to see what is actually running."), nil
		}
	} else {
		resolved := s.processName(ctx, input.PID)
		if resolved == "" {
			return s.failure("kill_process", fmt.Sprintf("no process with pid %d", input.PID),
				"It may have already exited. Run list_processes to confirm."), nil
		}
		if tools.IsProtectedProcess(resolved) {
			return s.refusal("kill_process", fmt.Sprintf("%s (pid %d)", resolved, input.PID),
				fmt.Sprintf("%s is a system-critical process; killing it would break the desktop session or the OS.", resolved)), nil
		}
		name = resolved
		pids = []int{input.PID}
	}

	for _, pid := range pids {
		s.signalProcess(ctx, pid, input.Force)
	}

	// Give TERM a moment to land, then verify against the live process
	// table instead of trusting the kill command's exit code.
	time.Sleep(500 * time.Millisecond)
	var killed, alive []int
	for _, pid := range pids {
		if s.processName(ctx, pid) == "" {
			killed = append(killed, pid)
		} else {
			alive = append(alive, pid)
		}
	}

	data := map[string]any{
		"name":   name,
		"killed": killed,
	}
	if len(alive) > 0 {
		data["still_running"] = alive
		result := s.failure("kill_process",
			fmt.Sprintf("%d of %d processes survived the signal", len(alive), len(pids)),
			"Retry with force:true to send an unconditional kill.",
			"Processes stuck in uninterruptible I/O cannot be killed until the I/O completes.")
		result.Data = data
		return result, nil
	}
	return s.success("kill_process", data), nil
}

func (s *Suite) findPIDsByName(ctx context.Context, name string) []int {
	if s.goos == "windows" {
		base := strings.TrimSuffix(name, ".exe")
		res := s.shell(ctx, fmt.Sprintf(`Get-Process -Name '%s' -ErrorAction SilentlyContinue | Select-Object -ExpandProperty Id`, base), commandTimeout)
		return parsePIDLines(res.Stdout)
	}
	res := s.run(ctx, []string{"pgrep", "-x", name}, commandTimeout)
	if pids := parsePIDLines(res.Stdout); len(pids) > 0 {
		return pids
	}
	// Exact match missed; try a substring match the way users type names.
	res = s.run(ctx, []string{"pgrep", name}, commandTimeout)
	return parsePIDLines(res.Stdout)
}

// processName returns the short name for a PID, or "" when no such
// process exists.
func (s *Suite) processName(ctx context.Context, pid int) string {
	if s.goos == "windows" {
		res := s.shell(ctx, fmt.Sprintf(`(Get-Process -Id %d -ErrorAction SilentlyContinue).ProcessName`, pid), commandTimeout)
		return strings.TrimSpace(res.Stdout)
	}
	res := s.run(ctx, []string{"ps", "-p", strconv.Itoa(pid), "-o", "comm="}, commandTimeout)
	if res.ExitCode != 0 {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

func (s *Suite) signalProcess(ctx context.Context, pid int, force bool) {
	if s.goos == "windows" {
		flags := ""
		if force {
			flags = " -Force"
		}
		s.shell(ctx, fmt.Sprintf(`Stop-Process -Id %d%s -ErrorAction SilentlyContinue`, pid, flags), mutateTimeout)
		return
	}
	sig := "-TERM"
	if force {
		sig = "-KILL"
	}
	s.run(ctx, []string{"kill", sig, strconv.Itoa(pid)}, mutateTimeout)
}

func parsePIDLines(out string) []int {
	var pids []int
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if pid, err := strconv.Atoi(line); err == nil && pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids
}
