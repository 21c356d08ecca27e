package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/netmedic/netmedic/internal/config"
	"github.com/netmedic/netmedic/internal/sidecar"
)

// =============================================================================
// Sidecar Commands
// =============================================================================

func buildSidecarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sidecar",
		Short: "Manage the local Ollama server and its models",
	}
	cmd.AddCommand(
		buildSidecarStatusCmd(),
		buildSidecarStartCmd(),
		buildSidecarStopCmd(),
		buildSidecarModelsCmd(),
		buildSidecarPullCmd(),
		buildSidecarRmCmd(),
	)
	return cmd
}

func buildSidecarStatusCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether the local server is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSidecarStatus(cmd, configPath, asJSON)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func runSidecarStatus(cmd *cobra.Command, configPath string, asJSON bool) error {
	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.supervisor.Status(cmd.Context())
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	if !st.Healthy {
		fmt.Fprintf(out, "Ollama is not running at %s.\n", st.BaseURL)
		fmt.Fprintln(out, "Start it with `netmedic sidecar start`.")
		return nil
	}
	fmt.Fprintf(out, "Ollama is healthy at %s", st.BaseURL)
	if st.OwnsProcess {
		fmt.Fprintf(out, " (spawned by netmedic, pid %d)", st.PID)
	} else {
		fmt.Fprint(out, " (external process)")
	}
	fmt.Fprintln(out)
	return nil
}

func buildSidecarStartCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the local server, or adopt one already running",
		Long: `Start the bundled Ollama server if none is reachable. A server that is
already answering is adopted as-is. A spawned server keeps running after
netmedic exits so later commands can reuse it; stop it with
` + "`netmedic sidecar stop`" + `.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSidecarStart(cmd, configPath)
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func runSidecarStart(cmd *cobra.Command, configPath string) error {
	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.supervisor.Start(cmd.Context()); err != nil {
		return fmt.Errorf("start sidecar: %w", err)
	}
	st := a.supervisor.Status(cmd.Context())
	if st.OwnsProcess {
		fmt.Fprintf(cmd.OutOrStdout(), "Started Ollama at %s (pid %d).\n", st.BaseURL, st.PID)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Adopted a running Ollama at %s.\n", st.BaseURL)
	}
	return nil
}

func buildSidecarStopCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a server netmedic spawned",
		Long: `Stop the Ollama process this machine's netmedic spawned, if any. A
server started outside netmedic is left alone.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSidecarStop(cmd, configPath)
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func runSidecarStop(cmd *cobra.Command, configPath string) error {
	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.supervisor.Status(cmd.Context())
	if st.OwnsProcess {
		if err := a.supervisor.Stop(cmd.Context()); err != nil {
			return fmt.Errorf("stop sidecar: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Stopped.")
		return nil
	}

	// This process owns nothing, but an earlier invocation may have left
	// a spawned server behind its pid file. Reap it the same way startup
	// would.
	if a.paths.PIDFile != "" {
		if reaped := sidecar.ReapOrphan(a.paths.PIDFile, 5*time.Second, a.logger.Slog()); reaped {
			fmt.Fprintln(cmd.OutOrStdout(), "Stopped.")
			return nil
		}
	}
	if st.Healthy {
		fmt.Fprintf(cmd.OutOrStdout(), "Ollama at %s was not started by netmedic; leaving it running.\n", st.BaseURL)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to stop.")
	}
	return nil
}

func buildSidecarModelsCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models installed on the local server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSidecarModels(cmd, configPath, asJSON)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func runSidecarModels(cmd *cobra.Command, configPath string, asJSON bool) error {
	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	models, err := a.supervisor.ListModels(cmd.Context())
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}
	if len(models) == 0 {
		fmt.Fprintln(out, "No models installed. Pull one with `netmedic sidecar pull llama3.2`.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
	for _, m := range models {
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.Name, formatBytes(m.Size), m.ModifiedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func buildSidecarPullCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "pull <model>",
		Short: "Download a model to the local server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSidecarPull(cmd, configPath, args[0])
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func runSidecarPull(cmd *cobra.Command, configPath, name string) error {
	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	lastStatus := ""
	progress := func(p sidecar.PullProgress) {
		if isTTY && p.Total > 0 {
			pct := float64(p.Completed) / float64(p.Total) * 100
			fmt.Fprintf(out, "\r%-40s %5.1f%% (%s / %s)", p.Status, pct, formatBytes(p.Completed), formatBytes(p.Total))
			lastStatus = p.Status
			return
		}
		if p.Status != lastStatus {
			if isTTY && lastStatus != "" {
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, p.Status)
			lastStatus = p.Status
		}
	}

	fmt.Fprintf(out, "Pulling %s...\n", name)
	if err := a.supervisor.PullModel(cmd.Context(), name, progress); err != nil {
		if isTTY {
			fmt.Fprintln(out)
		}
		return fmt.Errorf("pull model: %w", err)
	}
	if isTTY {
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Pulled %s.\n", name)

	// Remember the pull so the next session defaults to this model.
	prefs, err := config.LoadPreferences(a.paths.PrefsFile)
	if err != nil {
		prefs = config.Preferences{}
	}
	prefs.LastModel = name
	if err := config.SavePreferences(a.paths.PrefsFile, prefs); err != nil {
		a.logger.Slog().Warn("failed to save preferences", "error", err)
	}
	return nil
}

func buildSidecarRmCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "rm <model>",
		Short: "Delete a model from the local server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSidecarRm(cmd, configPath, args[0])
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func runSidecarRm(cmd *cobra.Command, configPath, name string) error {
	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.supervisor.DeleteModel(cmd.Context(), name); err != nil {
		return fmt.Errorf("delete model: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", name)
	return nil
}

// formatBytes renders a byte count the way disk tools do.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
