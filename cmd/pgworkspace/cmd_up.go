package main

import (
	"context"
	"fmt"
	"net/url"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/patina/pgworkspace/internal/logging"
	"github.com/patina/pgworkspace/pkg/workspace"
)

func newCmdUp() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start a workspace and expose it on the host until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUp(cmd, &f)
		},
	}
	addRunFlags(cmd, &f)
	return cmd
}

func runUp(cmd *cobra.Command, f *runFlags) error {
	ctx := cmd.Context()
	cfg := configFromContext(ctx)
	logger := logging.FromContext(ctx)

	sess, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sess.Close(context.Background())

	ws, err := sess.manager.CreateWorkspace(ctx, f.workspaceConfig(cfg))
	if err != nil {
		return err
	}

	// the database must accept connections before it is worth tunnelling
	if res, err := ws.RunCommand(ctx, []string{"true"}); err != nil {
		return err
	} else if !res.Succeeded() {
		return fmt.Errorf("control container check failed: %s", res.Stderr)
	}

	dbAddr, err := sess.runtime.Endpoint(ctx, ws.Database, "")
	if err != nil {
		return fmt.Errorf("tunnel database: %w", err)
	}
	gatewayURL, err := sess.runtime.Endpoint(ctx, ws.Gateway, "http")
	if err != nil {
		return fmt.Errorf("tunnel gateway: %w", err)
	}

	dsn := hostDSN(ws.Credentials(), dbAddr)
	serverVersion, err := pingDatabase(ctx, dsn)
	if err != nil {
		return err
	}

	logger.Info("workspace up",
		"id", ws.ID,
		"server_version", serverVersion,
		"dsn", logging.Mask(dsn),
		"gateway", gatewayURL)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "workspace: %s\n", ws.ID)
	fmt.Fprintf(out, "database:  %s\n", logging.Mask(dsn))
	fmt.Fprintf(out, "gateway:   %s\n", gatewayURL)
	fmt.Fprintf(out, "schema:    %s (role %s)\n", ws.Schema, ws.AnonRole)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("stopping workspace", "id", ws.ID)
	return nil
}

// hostDSN points the workspace credentials at a tunnelled address
func hostDSN(creds workspace.Credentials, addr string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(creds.User, creds.Password),
		Host:   addr,
		Path:   "/" + creds.Database,
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String()
}

func pingDatabase(ctx context.Context, dsn string) (string, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return "", fmt.Errorf("connect to database: %w", err)
	}
	defer conn.Close(ctx)

	if err := conn.Ping(ctx); err != nil {
		return "", fmt.Errorf("ping database: %w", err)
	}

	var version string
	if err := conn.QueryRow(ctx, "SHOW server_version").Scan(&version); err != nil {
		return "", fmt.Errorf("query server version: %w", err)
	}
	return version, nil
}
