package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/patina/pgworkspace/internal/logging"
	"github.com/patina/pgworkspace/pkg/config"
)

// ExitCodeError carries a workspace command's exit code out of RunE
type ExitCodeError struct {
	Code int
}

func (e ExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

type configKey struct{}

func withConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFromContext(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(configKey{}).(*config.Config); ok && cfg != nil {
		return cfg
	}
	return config.Default()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pgworkspace",
		Short:   "Ephemeral PostgreSQL + PostgREST workspaces",
		Long:    "Provision throwaway PostgreSQL + PostgREST environments on Dagger and run commands and SQL scripts against them.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", os.Getenv("PGWS_CONFIG"), "Path to a YAML config file (env PGWS_CONFIG)")
	cmd.PersistentFlags().String("env-file", config.DefaultDotEnv, "Dotenv file to load before reading the environment")
	cmd.PersistentFlags().String("log-format", "", "Log format (text|json) (env PGWS_LOG_FORMAT)")
	cmd.PersistentFlags().String("log-level", "", "Log level (debug|info|warn|error) (env PGWS_LOG_LEVEL)")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		envFile, _ := c.Flags().GetString("env-file")
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}

		path, _ := c.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		// flags override file and environment
		if f, _ := c.Flags().GetString("log-format"); f != "" {
			cfg.Log.Format = f
		}
		if l, _ := c.Flags().GetString("log-level"); l != "" {
			cfg.Log.Level = l
		}

		logger, err := logging.New(cfg.Log.Format, cfg.Log.Level)
		if err != nil {
			return err
		}

		ctx := logging.WithLogger(c.Context(), logger)
		ctx = withConfig(ctx, cfg)
		c.SetContext(ctx)
		return nil
	}

	cmd.AddCommand(newCmdVersion())
	cmd.AddCommand(newCmdServe())
	cmd.AddCommand(newCmdUp())
	cmd.AddCommand(newCmdExec())
	cmd.AddCommand(newCmdSQL())
	cmd.AddCommand(newCmdApply())
	cmd.AddCommand(newCmdScaffold())
	return cmd
}

func main() {
	root := newRootCmd()
	root.SetContext(context.Background())
	executed, err := root.ExecuteC()
	if err != nil {
		var exitErr ExitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}

		ctx := root.Context()
		if executed != nil {
			ctx = executed.Context()
		}
		logging.FromContext(ctx).Error("failed", "error", logging.Mask(err.Error()))
		os.Exit(1)
	}
}
