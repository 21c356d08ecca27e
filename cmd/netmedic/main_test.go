package main

import (
	"strings"
	"testing"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{
		"chat", "sessions", "feedback", "stats", "tools",
		"sidecar", "config", "metrics", "version",
	}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestSubcommandNesting(t *testing.T) {
	cmd := buildRootCmd()
	want := map[string][]string{
		"sessions": {"list", "show", "end", "delete"},
		"stats":    {"summary", "tools", "quality", "paths", "cost"},
		"tools":    {"list", "describe", "run"},
		"sidecar":  {"status", "start", "stop", "models", "pull", "rm"},
		"config":   {"show", "schema", "init"},
	}
	for _, sub := range cmd.Commands() {
		expected, ok := want[sub.Name()]
		if !ok {
			continue
		}
		names := map[string]bool{}
		for _, leaf := range sub.Commands() {
			names[leaf.Name()] = true
		}
		for _, name := range expected {
			if !names[name] {
				t.Errorf("%s: expected subcommand %q to be registered", sub.Name(), name)
			}
		}
		delete(want, sub.Name())
	}
	for name := range want {
		t.Errorf("missing command group %q", name)
	}
}

func TestVersionCommandOutput(t *testing.T) {
	cmd := buildRootCmd()
	var out strings.Builder
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute version: %v", err)
	}
	for _, want := range []string{"netmedic", "commit:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("version output %q should contain %q", out.String(), want)
		}
	}
}
