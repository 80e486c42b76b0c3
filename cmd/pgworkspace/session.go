package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"dagger.io/dagger"

	"github.com/patina/pgworkspace/pkg/config"
	"github.com/patina/pgworkspace/pkg/runtime/daggerrt"
	"github.com/patina/pgworkspace/pkg/workspace"
)

// session is one Dagger connection with a workspace manager on top
type session struct {
	dag     *dagger.Client
	runtime *daggerrt.Runtime
	manager *workspace.Manager
	logger  *slog.Logger
}

func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*session, error) {
	logger.Info("connecting to dagger")
	dag, err := dagger.Connect(ctx, dagger.WithLogOutput(os.Stderr))
	if err != nil {
		return nil, fmt.Errorf("connect to dagger: %w", err)
	}

	rt, err := daggerrt.New(dag, daggerrt.Options{EagerStart: true}, logger)
	if err != nil {
		dag.Close()
		return nil, err
	}

	factory, err := workspace.NewFactory(rt, cfg.FactoryConfig(), logger)
	if err != nil {
		dag.Close()
		return nil, err
	}

	manager, err := workspace.NewManager(factory, logger)
	if err != nil {
		dag.Close()
		return nil, err
	}

	return &session{
		dag:     dag,
		runtime: rt,
		manager: manager,
		logger:  logger,
	}, nil
}

// Close tears down every workspace and then the Dagger connection
func (s *session) Close(ctx context.Context) {
	if err := s.manager.Close(ctx); err != nil {
		s.logger.Error("manager close error", "error", err)
	}
	if err := s.dag.Close(); err != nil {
		s.logger.Error("dagger close error", "error", err)
	}
}
