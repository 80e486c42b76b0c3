package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/patina/pgworkspace/internal/logging"
	"github.com/patina/pgworkspace/pkg/scaffold"
	"github.com/patina/pgworkspace/pkg/workspace"
)

func newCmdScaffold() *cobra.Command {
	var (
		f      runFlags
		output string
		apply  bool
	)
	cmd := &cobra.Command{
		Use:   "scaffold DESCRIPTION...",
		Short: "Generate a PostgREST schema for an app description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := configFromContext(ctx)
			logger := logging.FromContext(ctx)

			gen, err := scaffold.NewAnthropicGenerator(scaffold.AnthropicConfig{
				APIKey:    cfg.Scaffold.APIKey,
				Model:     cfg.Scaffold.Model,
				MaxTokens: cfg.Scaffold.MaxTokens,
			})
			if err != nil {
				return err
			}

			result, err := scaffold.New(gen, logger).Scaffold(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if !result.Found {
				logger.Warn("reply contained no <sql> block")
			}

			if output != "" {
				if err := os.WriteFile(output, []byte(result.Script), 0o644); err != nil {
					return err
				}
				logger.Info("wrote schema", "path", output)
			} else if !apply {
				fmt.Fprint(cmd.OutOrStdout(), result.Script)
			}

			if !apply {
				return nil
			}
			f.bootstrap = true
			return withWorkspace(cmd, &f, func(ctx context.Context, ws *workspace.Workspace) (*workspace.ExecResult, error) {
				return ws.RunSQL(ctx, result.Script)
			})
		},
	}
	addRunFlags(cmd, &f)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the schema to a file instead of stdout")
	cmd.Flags().BoolVar(&apply, "apply", false, "Apply the schema to a fresh workspace")
	return cmd
}
