package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/agentcore/runtime/internal/config"
	"github.com/agentcore/runtime/internal/extensions"
)

// buildExtensionsCmd creates the "extensions" command group.
func buildExtensionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extensions",
		Short: "Manage configured extensions",
	}
	cmd.AddCommand(buildExtensionsListCmd())
	return cmd
}

func buildExtensionsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured extensions and connect to each",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtensionsList(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "agentcore.yaml", "Path to YAML configuration file")
	return cmd
}

func runExtensionsList(cmd *cobra.Command, configPath string) error {
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
		ext := &cfg.Extensions[i]
		if err := mgr.AddExtension(ctx, ext); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: failed to connect: %v\n", ext.Name, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ext.Name, ext.Transport)
	}
	return nil
}
