package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentcore/runtime/internal/config"
	"github.com/agentcore/runtime/pkg/models"
)

// buildRunCmd creates the "run" command, a single-shot reply loop over one
// user turn read from stdin (or --message), streaming the resulting
// ReplyEvents to stdout.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		message    string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single reply-loop turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReply(cmd, configPath, message)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "agentcore.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&message, "message", "m", "", "User message (reads stdin if omitted)")
	return cmd
}

func runReply(cmd *cobra.Command, configPath, message string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if message == "" {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		var collected string
		for scanner.Scan() {
			if collected != "" {
				collected += "\n"
			}
			collected += scanner.Text()
		}
		message = collected
	}
	if message == "" {
		return fmt.Errorf("no message provided: pass --message or pipe text on stdin")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, shutdown, err := buildAgent(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("build agent: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "tracer shutdown:", err)
		}
	}()

	conversation := []models.Message{models.NewUserText(message, time.Now().UnixNano())}
	events, errs := a.Reply(ctx, conversation, &models.SessionConfig{ID: "cli"}, nil)

	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			printReplyEvent(cmd, ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
			}
		}
	}
	return nil
}

func printReplyEvent(cmd *cobra.Command, ev models.ReplyEvent) {
	switch ev.Type {
	case models.ReplyEventMessage:
		if ev.Message == nil {
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), ev.Message.ConcatText())
	case models.ReplyEventModelChange:
		if ev.ModelChange != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "[model changed to %s, mode=%s]\n", ev.ModelChange.Model, ev.ModelChange.Mode)
		}
	case models.ReplyEventHistoryReplaced:
		fmt.Fprintln(cmd.ErrOrStderr(), "[history compacted]")
	case models.ReplyEventMcpNotification:
		// Dropped on the CLI; a host with a UI would forward this upstream.
	}
}
