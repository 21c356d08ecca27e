package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netmedic/netmedic/pkg/api"
)

// =============================================================================
// Feedback Command
// =============================================================================

func buildFeedbackCmd() *cobra.Command {
	var (
		configPath string
		score      int
		comment    string
	)
	cmd := &cobra.Command{
		Use:   "feedback <session-id>",
		Short: "Rate a session from 1 to 5",
		Long: `Rate a diagnostic session from 1 (useless) to 5 (fixed it).
Submitting again for the same session replaces the earlier rating.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeedback(cmd, configPath, args[0], score, comment)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVar(&score, "score", 0, "Rating from 1 to 5 (required)")
	cmd.Flags().StringVar(&comment, "comment", "", "Optional free-text comment")
	_ = cmd.MarkFlagRequired("score")
	return cmd
}

func runFeedback(cmd *cobra.Command, configPath, sessionID string, score int, comment string) error {
	a, err := openApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.assistant.SubmitFeedback(cmd.Context(), api.FeedbackRequest{
		SessionID: sessionID,
		Score:     score,
		Comment:   comment,
		Source:    "cli",
	})
	if err != nil {
		return fmt.Errorf("submit feedback: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d/5 for session %s.\n", resp.Score, resp.SessionID)
	return nil
}
