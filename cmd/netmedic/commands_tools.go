package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// =============================================================================
// Tools Commands
// =============================================================================

func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List and run diagnostic tools directly",
	}
	cmd.AddCommand(
		buildToolsListCmd(),
		buildToolsDescribeCmd(),
		buildToolsRunCmd(),
	)
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the registered diagnostic tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, configPath, asJSON)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print full definitions as JSON")
	return cmd
}

func runToolsList(cmd *cobra.Command, configPath string, asJSON bool) error {
	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	defs := a.assistant.Tools()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(defs)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCATEGORY\tOSI\tDESCRIPTION")
	for _, def := range defs {
		osi := "-"
		if def.OSILayer > 0 {
			osi = fmt.Sprintf("L%d", def.OSILayer)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", def.Name, def.Category, osi, def.Description)
	}
	return w.Flush()
}

func buildToolsDescribeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "describe <tool>",
		Short: "Show one tool's parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsDescribe(cmd, configPath, args[0])
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func runToolsDescribe(cmd *cobra.Command, configPath, name string) error {
	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, def := range a.assistant.Tools() {
		if def.Name != name {
			continue
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (%s)\n", def.Name, def.DisplayName)
		fmt.Fprintf(out, "Category: %s", def.Category)
		if def.OSILayer > 0 {
			fmt.Fprintf(out, "  OSI layer: %d", def.OSILayer)
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "\n%s\n", def.Description)
		if len(def.Parameters) == 0 {
			fmt.Fprintln(out, "\nNo parameters.")
			return nil
		}
		fmt.Fprintln(out, "\nParameters:")
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  NAME\tTYPE\tREQUIRED\tDESCRIPTION")
		for _, p := range def.Parameters {
			desc := p.Description
			if p.Default != nil {
				desc = fmt.Sprintf("%s (default %v)", desc, p.Default)
			}
			fmt.Fprintf(w, "  %s\t%s\t%t\t%s\n", p.Name, p.Type, p.Required, desc)
		}
		return w.Flush()
	}
	return fmt.Errorf("unknown tool %q (see `netmedic tools list`)", name)
}

func buildToolsRunCmd() *cobra.Command {
	var (
		configPath string
		argsJSON   string
	)
	cmd := &cobra.Command{
		Use:   "run <tool>",
		Short: "Run one tool and print its result",
		Long: `Run a single diagnostic tool outside of a conversation. The run is
recorded against a throwaway session so it still shows up in stats.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsRun(cmd, configPath, args[0], argsJSON)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&argsJSON, "args", "{}", "Tool arguments as a JSON object")
	return cmd
}

func runToolsRun(cmd *cobra.Command, configPath, name, argsJSON string) error {
	var toolArgs map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &toolArgs); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}

	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	exec, err := a.assistant.ExecuteTool(cmd.Context(), name, toolArgs)
	if err != nil {
		return fmt.Errorf("execute tool: %w", err)
	}

	out := cmd.OutOrStdout()
	if exec.Error != "" {
		fmt.Fprintf(out, "%s failed after %dms: %s\n", exec.Name, exec.DurationMS, exec.Error)
		return nil
	}
	fmt.Fprintf(out, "%s finished in %dms\n", exec.Name, exec.DurationMS)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(exec.Result)
}
