package netdiag

import (
	"context"
	"strings"
	"testing"

	"github.com/netmedic/netmedic/internal/execx"
)

const psOutput = `  PID %CPU %MEM COMMAND
 4242 97.3  2.1 chromium --type=renderer
  811 12.0  1.4 slack
    1  0.1  0.3 systemd
`

func TestParsePS(t *testing.T) {
	procs := parsePS(psOutput, 2)
	if len(procs) != 2 {
		t.Fatalf("parsePS() = %d rows, want 2 (limit)", len(procs))
	}
	if procs[0]["pid"] != 4242 {
		t.Errorf("pid = %v, want 4242", procs[0]["pid"])
	}
	if procs[0]["cpu_percent"] != 97.3 {
		t.Errorf("cpu_percent = %v, want 97.3", procs[0]["cpu_percent"])
	}
	if procs[0]["name"] != "chromium --type=renderer" {
		t.Errorf("name = %v, want full command", procs[0]["name"])
	}
}

func TestParseWindowsProcesses(t *testing.T) {
	out := `[
  {"Id": 4242, "ProcessName": "chrome", "CPU": 1234.5, "WorkingSet64": 524288000},
  {"Id": 811, "ProcessName": "slack", "CPU": 88.1, "WorkingSet64": 262144000}
]`
	procs, err := parseWindowsProcesses(out)
	if err != nil {
		t.Fatalf("parseWindowsProcesses() error: %v", err)
	}
	if len(procs) != 2 {
		t.Fatalf("rows = %d, want 2", len(procs))
	}
	if procs[0]["name"] != "chrome" {
		t.Errorf("name = %v, want chrome", procs[0]["name"])
	}
	mb, _ := procs[0]["memory_mb"].(float64)
	if mb < 499 || mb > 501 {
		t.Errorf("memory_mb = %v, want ~500", mb)
	}
}

func TestListProcessesLinux(t *testing.T) {
	sc := &script{responses: map[string]execx.Result{
		"ps axo pid,pcpu,pmem,comm --sort=-pcpu": {Stdout: psOutput},
	}}
	s := newTestSuite("linux", sc)

	result, err := s.listProcesses(context.Background(), map[string]any{"limit": float64(2)})
	if err != nil {
		t.Fatalf("listProcesses() error: %v", err)
	}
	if !result.Success {
		t.Fatalf("listProcesses() failed: %s", result.Error)
	}
	procs, ok := result.Data["processes"].([]map[string]any)
	if !ok || len(procs) != 2 {
		t.Fatalf("processes = %v, want 2 rows", result.Data["processes"])
	}
}

func TestKillProcessRefusesProtectedName(t *testing.T) {
	sc := &script{}
	s := newTestSuite("linux", sc)

	result, err := s.killProcess(context.Background(), map[string]any{"name": "systemd"})
	if err != nil {
		t.Fatalf("killProcess() error: %v", err)
	}
	if result.Success {
		t.Error("killProcess(systemd) must fail")
	}
	if !strings.Contains(result.Error, "protected") {
		t.Errorf("Error = %q, want a protected-target refusal", result.Error)
	}
	if len(sc.calls) != 0 {
		t.Errorf("refusal ran %d commands, want 0", len(sc.calls))
	}
}

func TestKillProcessRefusesProtectedPID(t *testing.T) {
	sc := &script{responses: map[string]execx.Result{
		"ps -p 1 -o comm=": {Stdout: "systemd\n"},
	}}
	s := newTestSuite("linux", sc)

	result, err := s.killProcess(context.Background(), map[string]any{"pid": float64(1)})
	if err != nil {
		t.Fatalf("killProcess() error: %v", err)
	}
	if result.Success {
		t.Error("killProcess(pid 1) must fail")
	}
	for _, call := range sc.calls {
		if strings.HasPrefix(call, "kill ") {
			t.Errorf("refusal must not signal the process, but ran %q", call)
		}
	}
}

func TestKillProcessByName(t *testing.T) {
	sc := &script{responses: map[string]execx.Result{
		"pgrep -x chromium":   {Stdout: "4242\n"},
		"kill -TERM 4242":     {},
		"ps -p 4242 -o comm=": {ExitCode: 1},
	}}
	s := newTestSuite("linux", sc)

	result, err := s.killProcess(context.Background(), map[string]any{"name": "chromium"})
	if err != nil {
		t.Fatalf("killProcess() error: %v", err)
	}
	if !result.Success {
		t.Fatalf("killProcess() failed: %s", result.Error)
	}
	killed, ok := result.Data["killed"].([]int)
	if !ok || len(killed) != 1 || killed[0] != 4242 {
		t.Errorf("killed = %v, want [4242]", result.Data["killed"])
	}
}

func TestKillProcessSurvivor(t *testing.T) {
	sc := &script{responses: map[string]execx.Result{
		"pgrep -x stuckproc": {Stdout: "999\n"},
		"kill -TERM 999":     {},
		"ps -p 999 -o comm=": {Stdout: "stuckproc\n"},
	}}
	s := newTestSuite("linux", sc)

	result, err := s.killProcess(context.Background(), map[string]any{"name": "stuckproc"})
	if err != nil {
		t.Fatalf("killProcess() error: %v", err)
	}
	if result.Success {
		t.Error("killProcess() should fail when the process survives")
	}
	alive, _ := result.Data["still_running"].([]int)
	if len(alive) != 1 || alive[0] != 999 {
		t.Errorf("still_running = %v, want [999]", result.Data["still_running"])
	}
}

func TestKillProcessNoTarget(t *testing.T) {
	s := newTestSuite("linux", &script{})
	result, err := s.killProcess(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("killProcess() error: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "required") {
		t.Errorf("result = %+v, want name-or-pid failure", result)
	}
}

func TestKillProcessMissingName(t *testing.T) {
	sc := &script{responses: map[string]execx.Result{
		"pgrep -x ghostproc": {ExitCode: 1},
		"pgrep ghostproc":    {ExitCode: 1},
	}}
	s := newTestSuite("linux", sc)

	result, err := s.killProcess(context.Background(), map[string]any{"name": "ghostproc"})
	if err != nil {
		t.Fatalf("killProcess() error: %v", err)
	}
	if result.Success {
		t.Error("killProcess() on a missing name should fail")
	}
	if !strings.Contains(result.Error, "no process named") {
		t.Errorf("Error = %q, want no-process-named failure", result.Error)
	}
}
