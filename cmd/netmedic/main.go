// Package main provides the CLI entry point for netmedic, an AI-assisted
// network and OS diagnostics assistant.
//
// netmedic drives an LLM through the host's diagnostic tools: it pings
// the gateway, inspects DNS and WiFi, reads interface configuration, and
// reports back in plain language with a confidence score.
//
// # Basic Usage
//
// Ask a question:
//
//	netmedic chat "why is my wifi so slow?"
//
// Or start an interactive session:
//
//	netmedic chat
//
// Review past sessions and their outcomes:
//
//	netmedic sessions list
//	netmedic stats summary
//
// Manage the local model server:
//
//	netmedic sidecar status
//	netmedic sidecar pull llama3.2
//
// # Environment Variables
//
//   - LLM_BACKEND: preferred provider (openai, anthropic, xai, google, ollama)
//   - OPENAI_API_KEY, ANTHROPIC_API_KEY, XAI_API_KEY, GOOGLE_API_KEY: cloud credentials
//   - OLLAMA_HOST: local model server address
//   - OLLAMA_MODELS: local model storage directory
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/netmedic/netmedic/internal/config"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A sane default logger until a command loads config and installs
	// the real one.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "netmedic",
		Short: "netmedic - AI-assisted network diagnostics",
		Long: `netmedic diagnoses network and system problems on this machine.

It drives an LLM through local diagnostic tools (ping, DNS, WiFi, DHCP,
disk, processes) and explains what it found. Cloud providers are used
when credentials and connectivity allow; otherwise a local model server
answers, so diagnostics work even when the network is the problem.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildSessionsCmd(),
		buildFeedbackCmd(),
		buildStatsCmd(),
		buildToolsCmd(),
		buildSidecarCmd(),
		buildConfigCmd(),
		buildMetricsCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "netmedic %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}

// resolveConfigPath falls back to the state-directory config file when no
// explicit path is given.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	return config.DefaultPaths().ConfigFile
}

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", "", "Path to YAML configuration file")
}
