package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/patina/pgworkspace/internal/logging"
	"github.com/patina/pgworkspace/pkg/api"
)

func newCmdServe() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workspace HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (env PGWS_ADDR)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := configFromContext(ctx)
	logger := logging.FromContext(ctx)

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	logger.Info("workspace server configuration",
		"database_image", cfg.Images.Database,
		"gateway_image", cfg.Images.Gateway,
		"control_image", cfg.Images.Control,
		"readiness_interval", cfg.Readiness.Interval,
		"readiness_max_attempts", cfg.Readiness.MaxAttempts)

	sess, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}

	handlers := api.NewHandlers(sess.manager, logger)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handlers.Routes(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting workspace server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-sigCtx.Done():
	case runErr = <-serveErr:
		logger.Error("server error", "error", runErr)
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	sess.Close(shutdownCtx)

	logger.Info("server stopped")
	return runErr
}
