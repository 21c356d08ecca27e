package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/netmedic/netmedic/pkg/api"
)

// =============================================================================
// Chat Command
// =============================================================================

func buildChatCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Ask the diagnostics assistant a question",
		Long: `Ask a one-shot question, or start an interactive session when no
message is given and stdin is a terminal. Use --session to continue an
earlier conversation.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := ""
			if len(args) == 1 {
				message = args[0]
			}
			return runChat(cmd, configPath, sessionID, message, asJSON)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&sessionID, "session", "", "Conversation ID to continue")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full response envelope as JSON")
	return cmd
}

func runChat(cmd *cobra.Command, configPath, sessionID, message string, asJSON bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	interactive := message == "" && term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		return chatREPL(ctx, cmd, a, sessionID, asJSON)
	}

	if message == "" {
		// Piped input: the whole of stdin is one question.
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		message = strings.TrimSpace(string(data))
	}
	if message == "" {
		return errors.New("no message given")
	}

	resp, err := a.assistant.Chat(ctx, api.ChatRequest{Message: message, ConversationID: sessionID})
	if err != nil {
		return err
	}
	return printChatResponse(cmd.OutOrStdout(), resp, asJSON)
}

// chatREPL runs the interactive loop. The conversation id persists across
// turns so follow-up questions share the session.
func chatREPL(ctx context.Context, cmd *cobra.Command, a *app, sessionID string, asJSON bool) error {
	out := cmd.OutOrStdout()

	// Interactive sessions can idle for a long time; the sweeper keeps
	// abandoned ones from lingering in progress.
	a.sweeper.Start()

	fmt.Fprintln(out, "netmedic interactive session. Type your question, or \"exit\" to leave.")
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		resp, err := a.assistant.Chat(ctx, api.ChatRequest{Message: line, ConversationID: sessionID})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		sessionID = resp.ConversationID
		if err := printChatResponse(out, resp, asJSON); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}

	if ctx.Err() != nil {
		fmt.Fprintln(out)
	}
	if sessionID != "" {
		fmt.Fprintf(out, "session: %s (continue with `netmedic chat --session %s`, rate with `netmedic feedback`)\n", sessionID, sessionID)
	}
	return scanner.Err()
}

func printChatResponse(out io.Writer, resp *api.ChatResponse, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Fprintln(out, resp.Response)
	if len(resp.ToolCalls) > 0 {
		fmt.Fprintln(out)
		for _, call := range resp.ToolCalls {
			status := "ok"
			if !call.Success {
				status = "failed"
			}
			fmt.Fprintf(out, "  ran %s (%s, %dms)\n", call.Name, status, call.DurationMS)
		}
		fmt.Fprintf(out, "  confidence: %.2f\n", resp.Diagnostics.ConfidenceScore)
	}
	return nil
}
