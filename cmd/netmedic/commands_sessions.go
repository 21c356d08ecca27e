package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/netmedic/netmedic/pkg/models"
)

// =============================================================================
// Sessions Commands
// =============================================================================

func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage diagnostic sessions",
	}
	cmd.AddCommand(
		buildSessionsListCmd(),
		buildSessionsShowCmd(),
		buildSessionsEndCmd(),
		buildSessionsDeleteCmd(),
	)
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var (
		configPath string
		page       int
		pageSize   int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, configPath, page, pageSize)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVar(&page, "page", 1, "Page number (1-based)")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "Sessions per page")
	return cmd
}

func runSessionsList(cmd *cobra.Command, configPath string, page, pageSize int) error {
	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.assistant.ListSessions(cmd.Context(), page, pageSize)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(result.Items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tOUTCOME\tCATEGORY\tMSGS\tPREVIEW")
	for _, item := range result.Items {
		category := item.IssueCategory
		if category == "" {
			category = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			item.ID, item.StartedAt, item.Outcome, category, item.MessageCount, item.Preview)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\npage %d of %d sessions", result.Page, result.Total)
	if result.HasMore {
		fmt.Fprintf(cmd.OutOrStdout(), " (more: --page %d)", result.Page+1)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

func buildSessionsShowCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session with its events and tool calls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd, configPath, args[0], asJSON)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full detail as JSON")
	return cmd
}

func runSessionsShow(cmd *cobra.Command, configPath, sessionID string, asJSON bool) error {
	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	detail, err := a.assistant.GetSession(cmd.Context(), sessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(detail)
	}

	s := detail.Session
	fmt.Fprintf(out, "Session:   %s\n", s.ID)
	fmt.Fprintf(out, "Started:   %s\n", s.StartedAt.UTC().Format("2006-01-02 15:04:05"))
	if s.EndedAt != nil {
		fmt.Fprintf(out, "Ended:     %s\n", s.EndedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(out, "Outcome:   %s\n", s.Outcome)
	if s.IssueCategory != models.CategoryUnknown {
		fmt.Fprintf(out, "Category:  %s\n", s.IssueCategory)
	}
	if s.OSILayerResolved > 0 {
		fmt.Fprintf(out, "OSI layer: %d\n", s.OSILayerResolved)
	}
	if s.Provider != "" {
		fmt.Fprintf(out, "Provider:  %s", s.Provider)
		if s.Model != "" {
			fmt.Fprintf(out, " (%s)", s.Model)
		}
		if s.HadFallback {
			fmt.Fprint(out, ", fallback used")
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Messages:  %d  Tools: %d  Tokens: %d in / %d out  Cost: $%.4f\n",
		s.MessageCount, s.ToolCallCount, s.PromptTokens, s.CompletionTokens, s.EstimatedCostUSD)
	if detail.Feedback != nil {
		fmt.Fprintf(out, "Feedback:  %d/5", detail.Feedback.Score)
		if detail.Feedback.Comment != "" {
			fmt.Fprintf(out, " %q", detail.Feedback.Comment)
		}
		fmt.Fprintln(out)
	}

	if len(detail.ToolEvents) > 0 {
		fmt.Fprintln(out, "\nTool calls:")
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  TOOL\tOK\tMS\tREPEATED\tERROR")
		for _, ev := range detail.ToolEvents {
			errText := ev.Error
			if errText == "" {
				errText = "-"
			}
			repeated := "-"
			if ev.IsRepeated {
				repeated = fmt.Sprintf("x%d", ev.ConsecutiveCount)
			}
			fmt.Fprintf(w, "  %s\t%t\t%d\t%s\t%s\n",
				ev.ToolName, ev.Success, ev.DurationMS, repeated, errText)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if len(detail.Events) > 0 {
		fmt.Fprintln(out, "\nEvents:")
		for _, ev := range detail.Events {
			fmt.Fprintf(out, "  %s %s %s\n",
				ev.CreatedAt.UTC().Format("15:04:05"), ev.Type, summarizeEvent(ev))
		}
	}
	return nil
}

func summarizeEvent(ev models.Event) string {
	parts := make([]string, 0, len(ev.Metadata)+1)
	if ev.DurationMS > 0 {
		parts = append(parts, fmt.Sprintf("%dms", ev.DurationMS))
	}
	for _, key := range []string{"provider", "model", "from", "to", "reason", "tool", "error"} {
		if v, ok := ev.Metadata[key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", key, v))
		}
	}
	return strings.Join(parts, " ")
}

func buildSessionsEndCmd() *cobra.Command {
	var (
		configPath string
		outcome    string
	)
	cmd := &cobra.Command{
		Use:   "end <session-id>",
		Short: "End a session with an outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsEnd(cmd, configPath, args[0], outcome)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&outcome, "outcome", "resolved", "Final outcome (resolved, unresolved, abandoned)")
	return cmd
}

func runSessionsEnd(cmd *cobra.Command, configPath, sessionID, outcome string) error {
	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.assistant.EndSession(cmd.Context(), sessionID, models.Outcome(outcome)); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s ended as %s.\n", sessionID, outcome)
	return nil
}

func buildSessionsDeleteCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and everything recorded under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsDelete(cmd, configPath, args[0])
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func runSessionsDelete(cmd *cobra.Command, configPath, sessionID string) error {
	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.assistant.DeleteSession(cmd.Context(), sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s deleted.\n", sessionID)
	return nil
}
