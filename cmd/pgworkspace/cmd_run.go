package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/patina/pgworkspace/internal/logging"
	"github.com/patina/pgworkspace/pkg/config"
	"github.com/patina/pgworkspace/pkg/workspace"
)

// runFlags are shared by the one-shot exec, sql and apply commands
type runFlags struct {
	anonRole  string
	schema    string
	bootstrap bool
	timeout   time.Duration
	json      bool
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().StringVar(&f.anonRole, "anon-role", "", "Anonymous role for the gateway (env PGWS_ANON_ROLE)")
	cmd.Flags().StringVar(&f.schema, "schema", "", "Schema exposed by the gateway (env PGWS_SCHEMA)")
	cmd.Flags().BoolVar(&f.bootstrap, "bootstrap", false, "Create the anonymous role and schema when the database starts")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Overall timeout (0 for none)")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print the result as JSON")
}

func (f *runFlags) workspaceConfig(cfg *config.Config) *workspace.Config {
	ws := cfg.WorkspaceConfig()
	if f.anonRole != "" {
		ws.AnonRole = f.anonRole
	}
	if f.schema != "" {
		ws.Schema = f.schema
	}
	if f.bootstrap {
		ws.Bootstrap = true
	}
	return ws
}

// withWorkspace creates a throwaway workspace, hands it to fn and tears
// everything down afterwards.
func withWorkspace(cmd *cobra.Command, f *runFlags, fn func(context.Context, *workspace.Workspace) (*workspace.ExecResult, error)) error {
	ctx := cmd.Context()
	cfg := configFromContext(ctx)
	logger := logging.FromContext(ctx)

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	sess, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sess.Close(context.Background())

	ws, err := sess.manager.CreateWorkspace(ctx, f.workspaceConfig(cfg))
	if err != nil {
		return err
	}

	result, err := fn(ctx, ws)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), result, f.json)
}

func printResult(stdout, stderr io.Writer, result *workspace.ExecResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		fmt.Fprint(stdout, result.Stdout)
		fmt.Fprint(stderr, result.Stderr)
	}
	if !result.Succeeded() {
		return ExitCodeError{Code: result.ExitCode}
	}
	return nil
}

func newCmdExec() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "exec -- COMMAND [ARG...]",
		Short: "Run a command in a fresh workspace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, &f, func(ctx context.Context, ws *workspace.Workspace) (*workspace.ExecResult, error) {
				return ws.RunCommand(ctx, args)
			})
		},
	}
	addRunFlags(cmd, &f)
	return cmd
}

func newCmdSQL() *cobra.Command {
	var (
		f       runFlags
		command string
	)
	cmd := &cobra.Command{
		Use:   "sql [FILE|-]",
		Short: "Run one SQL script in a fresh workspace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := sqlInput(cmd.InOrStdin(), command, args)
			if err != nil {
				return err
			}
			return withWorkspace(cmd, &f, func(ctx context.Context, ws *workspace.Workspace) (*workspace.ExecResult, error) {
				return ws.RunSQL(ctx, script)
			})
		},
	}
	addRunFlags(cmd, &f)
	cmd.Flags().StringVarP(&command, "command", "c", "", "SQL text to run instead of a file")
	return cmd
}

// sqlInput resolves the script from -c, a file or stdin ("-")
func sqlInput(stdin io.Reader, command string, args []string) (string, error) {
	switch {
	case command != "" && len(args) > 0:
		return "", fmt.Errorf("--command and a script file are mutually exclusive")
	case command != "":
		return command, nil
	case len(args) == 0:
		return "", fmt.Errorf("a script file, - or --command is required")
	case args[0] == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func newCmdApply() *cobra.Command {
	var (
		f                  runFlags
		stopOnFirstFailure bool
	)
	cmd := &cobra.Command{
		Use:   "apply SCRIPT... -- COMMAND [ARG...]",
		Short: "Apply SQL scripts in order and then run a command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, command, err := splitApplyArgs(args, cmd.ArgsLenAtDash())
			if err != nil {
				return err
			}

			scripts := make([]string, len(files))
			for i, name := range files {
				data, err := os.ReadFile(name)
				if err != nil {
					return err
				}
				scripts[i] = string(data)
			}

			return withWorkspace(cmd, &f, func(ctx context.Context, ws *workspace.Workspace) (*workspace.ExecResult, error) {
				if cmd.Flags().Changed("stop-on-first-failure") {
					policy := ws.Policy()
					policy.StopOnFirstFailure = stopOnFirstFailure
					ws = ws.WithPolicy(policy)
				}
				return ws.RunAllThenCommand(ctx, scripts, command)
			})
		},
	}
	addRunFlags(cmd, &f)
	cmd.Flags().BoolVar(&stopOnFirstFailure, "stop-on-first-failure", false, "Return the first failing script's result (env PGWS_STOP_ON_FIRST_FAILURE)")
	return cmd
}

// splitApplyArgs splits "a.sql b.sql -- cmd args" at the dash
func splitApplyArgs(args []string, dash int) (files, command []string, err error) {
	if dash < 0 {
		return nil, nil, fmt.Errorf("missing -- before the command")
	}
	files, command = args[:dash], args[dash:]
	if len(command) == 0 {
		return nil, nil, fmt.Errorf("a command is required after --")
	}
	return files, command, nil
}
