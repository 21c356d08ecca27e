package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/netmedic/netmedic/internal/config"
)

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and bootstrap configuration",
	}
	cmd.AddCommand(
		buildConfigShowCmd(),
		buildConfigSchemaCmd(),
		buildConfigInitCmd(),
	)
	return cmd
}

func buildConfigShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, file values, and environment
overrides are applied. API keys are redacted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd, configPath)
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func runConfigShow(cmd *cobra.Command, configPath string) error {
	cfg, err := config.LoadOrDefault(resolveConfigPath(configPath))
	if err != nil {
		return err
	}
	redacted := *cfg
	redacted.LLM.OpenAI.APIKey = redactSecret(cfg.LLM.OpenAI.APIKey)
	redacted.LLM.Anthropic.APIKey = redactSecret(cfg.LLM.Anthropic.APIKey)
	redacted.LLM.XAI.APIKey = redactSecret(cfg.LLM.XAI.APIKey)
	redacted.LLM.Google.APIKey = redactSecret(cfg.LLM.Google.APIKey)

	data, err := yaml.Marshal(redacted)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func redactSecret(s string) string {
	if s == "" {
		return ""
	}
	return "[set]"
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.JSONSchema()
			if err != nil {
				return fmt.Errorf("generate schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func buildConfigInitCmd() *cobra.Command {
	var (
		path  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd, path, force)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Where to write the file (default ~/.netmedic/netmedic.yaml)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func runConfigInit(cmd *cobra.Command, path string, force bool) error {
	paths := config.DefaultPaths()
	if path == "" {
		path = paths.ConfigFile
		if err := paths.EnsureDirs(); err != nil {
			return fmt.Errorf("prepare state dir: %w", err)
		}
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := os.WriteFile(path, []byte(config.SampleYAML), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
