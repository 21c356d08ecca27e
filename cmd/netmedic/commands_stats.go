package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/netmedic/netmedic/internal/store"
	"github.com/netmedic/netmedic/pkg/models"
)

// =============================================================================
// Stats Commands
// =============================================================================

func buildStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate analytics over past sessions",
	}
	cmd.AddCommand(
		buildStatsSummaryCmd(),
		buildStatsToolsCmd(),
		buildStatsQualityCmd(),
		buildStatsPathsCmd(),
		buildStatsCostCmd(),
	)
	return cmd
}

// windowFromDays bounds a query to the last n days, or leaves it
// unbounded when n is zero.
func windowFromDays(days int) store.Window {
	if days <= 0 {
		return store.Window{}
	}
	return store.Window{Start: time.Now().UTC().AddDate(0, 0, -days)}
}

func buildStatsSummaryCmd() *cobra.Command {
	var (
		configPath string
		days       int
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Session outcomes, providers, and spend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatsSummary(cmd, configPath, days, asJSON)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVar(&days, "days", 0, "Only count sessions started in the last N days (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func runStatsSummary(cmd *cobra.Command, configPath string, days int, asJSON bool) error {
	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.assistant.Analytics().SessionSummary(cmd.Context(), windowFromDays(days))
	if err != nil {
		return fmt.Errorf("session summary: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Fprintf(out, "Sessions:        %d\n", summary.TotalSessions)
	if len(summary.ByOutcome) > 0 {
		order := []models.Outcome{
			models.OutcomeResolved, models.OutcomeUnresolved,
			models.OutcomeAbandoned, models.OutcomeInProgress,
		}
		parts := make([]string, 0, len(summary.ByOutcome))
		for _, o := range order {
			if n, ok := summary.ByOutcome[o]; ok {
				parts = append(parts, fmt.Sprintf("%s %d", o, n))
			}
		}
		fmt.Fprintf(out, "Outcomes:        %s\n", strings.Join(parts, ", "))
	}
	if len(summary.ByProvider) > 0 {
		parts := make([]string, 0, len(summary.ByProvider))
		for provider, n := range summary.ByProvider {
			parts = append(parts, fmt.Sprintf("%s %d", provider, n))
		}
		fmt.Fprintf(out, "Providers:       %s\n", strings.Join(parts, ", "))
	}
	fmt.Fprintf(out, "Fallbacks:       %d\n", summary.FallbackCount)
	fmt.Fprintf(out, "Avg messages:    %.1f\n", summary.AvgMessages)
	fmt.Fprintf(out, "Avg tokens:      %.0f in / %.0f out\n", summary.AvgPromptTokens, summary.AvgCompletionTokens)
	if summary.AvgResolutionMS > 0 {
		fmt.Fprintf(out, "Avg resolution:  %s\n", (time.Duration(summary.AvgResolutionMS) * time.Millisecond).Round(time.Second))
	}
	fmt.Fprintf(out, "Total cost:      $%.4f\n", summary.TotalCostUSD)
	return nil
}

func buildStatsToolsCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Per-tool success rates and timings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatsTools(cmd, configPath, asJSON)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func runStatsTools(cmd *cobra.Command, configPath string, asJSON bool) error {
	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.assistant.Analytics().ToolStats(cmd.Context())
	if err != nil {
		return fmt.Errorf("tool stats: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	if len(stats) == 0 {
		fmt.Fprintln(out, "No tool runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tRUNS\tOK\tFAIL\tSUCCESS\tAVG MS\tLOOPS")
	for _, st := range stats {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.0f%%\t%.0f\t%d\n",
			st.Tool, st.Total, st.Successes, st.Failures, st.SuccessRate*100, st.AvgDurationMS, st.LoopCount)
	}
	return w.Flush()
}

func buildStatsQualityCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "quality",
		Short: "Convergence and drop-off metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatsQuality(cmd, configPath, asJSON)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func runStatsQuality(cmd *cobra.Command, configPath string, asJSON bool) error {
	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	quality, err := a.assistant.Analytics().QualityMetrics(cmd.Context())
	if err != nil {
		return fmt.Errorf("quality metrics: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(quality)
	}

	fmt.Fprintf(out, "Sessions:                %d\n", quality.TotalSessions)
	fmt.Fprintf(out, "Avg msgs to resolution:  %.1f\n", quality.AvgMessagesToResolution)
	fmt.Fprintf(out, "Sessions with loops:     %d (%d occurrences)\n", quality.SessionsWithLoops, quality.LoopOccurrences)
	fmt.Fprintf(out, "Abandoned:               %d\n", quality.AbandonedSessions)
	fmt.Fprintf(out, "Drop-off rate:           %.0f%%\n", quality.DropOffRate*100)
	return nil
}

func buildStatsPathsCmd() *cobra.Command {
	var (
		configPath string
		limit      int
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Most common successful resolution paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatsPaths(cmd, configPath, limit, asJSON)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of paths to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func runStatsPaths(cmd *cobra.Command, configPath string, limit int, asJSON bool) error {
	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	paths, err := a.assistant.Analytics().CommonResolutionPaths(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("resolution paths: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(paths)
	}
	if len(paths) == 0 {
		fmt.Fprintln(out, "No resolved sessions with tool runs yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COUNT\tPATH")
	for _, p := range paths {
		fmt.Fprintf(w, "%d\t%s\n", p.Count, strings.Join(p.Path, " -> "))
	}
	return w.Flush()
}

func buildStatsCostCmd() *cobra.Command {
	var (
		configPath string
		days       int
		by         string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Cloud spend bucketed over time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatsCost(cmd, configPath, days, by, asJSON)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVar(&days, "days", 30, "Only count sessions started in the last N days (0 = all)")
	cmd.Flags().StringVar(&by, "by", "day", "Bucket width (day, week, month)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func runStatsCost(cmd *cobra.Command, configPath string, days int, by string, asJSON bool) error {
	granularity := store.Granularity(by)
	if !granularity.Valid() {
		return fmt.Errorf("invalid --by %q (want day, week, or month)", by)
	}

	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	buckets, err := a.assistant.Analytics().CostByPeriod(cmd.Context(), windowFromDays(days), granularity)
	if err != nil {
		return fmt.Errorf("cost by period: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(buckets)
	}
	if len(buckets) == 0 {
		fmt.Fprintln(out, "No spend recorded in the window.")
		return nil
	}

	var total float64
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PERIOD\tSESSIONS\tTOKENS IN\tTOKENS OUT\tCOST")
	for _, b := range buckets {
		total += b.CostUSD
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t$%.4f\n",
			b.Period, b.Sessions, b.PromptTokens, b.CompletionTokens, b.CostUSD)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\ntotal: $%.4f\n", total)
	return nil
}
