package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/agentcore/runtime/internal/config"
	"github.com/agentcore/runtime/internal/extensions"
)

// buildToolsCmd creates the "tools" command group.
func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect tools exposed by connected extensions",
	}
	cmd.AddCommand(buildToolsListCmd())
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var (
		configPath string
		extFilter  string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prefixed tools across configured extensions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, configPath, extFilter)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "agentcore.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&extFilter, "extension", "", "Limit to one extension's tools")
	return cmd
}

func runToolsList(cmd *cobra.Command, configPath, extFilter string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	mgr := extensions.NewManager(config.EnvCredentialStore{}, nil, nil, nil, slog.Default())
	for i := range cfg.Extensions {
		if err := mgr.AddExtension(ctx, &cfg.Extensions[i]); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: failed to connect: %v\n", cfg.Extensions[i].Name, err)
		}
	}

	tools, err := mgr.ListTools(ctx, extFilter)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	for _, t := range tools {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", t.Name, t.Description)
	}
	return nil
}
