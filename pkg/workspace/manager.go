package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/patina/pgworkspace/pkg/registry"
)

// ExecOptions configures command execution through the manager
type ExecOptions struct {
	Command []string      `json:"command"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// SQLOptions configures a single SQL script run
type SQLOptions struct {
	SQL     string        `json:"sql"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ApplyOptions configures RunAllThenCommand through the manager.
// A nil StopOnFirstFailure keeps the workspace policy.
type ApplyOptions struct {
	Scripts            []string      `json:"scripts"`
	Command            []string      `json:"command"`
	StopOnFirstFailure *bool         `json:"stop_on_first_failure,omitempty"`
	Timeout            time.Duration `json:"timeout,omitempty"`
}

// Manager owns the workspaces of one session and tears them down on Close
type Manager struct {
	factory    *Factory
	workspaces *registry.Registry[*Workspace]
	logger     *slog.Logger
	closed     bool
	mu         sync.RWMutex // Protects closed state and registration
}

var _ WorkspaceManager = (*Manager)(nil)

// NewManager creates a new workspace manager
func NewManager(factory *Factory, logger *slog.Logger) (*Manager, error) {
	if factory == nil {
		return nil, ErrNoRuntime
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		factory:    factory,
		workspaces: registry.New[*Workspace](),
		logger:     logger,
	}, nil
}

func (m *Manager) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrManagerClosed
	}
	return nil
}

// CreateWorkspace provisions and registers a new workspace
func (m *Manager) CreateWorkspace(ctx context.Context, cfg *Config) (*Workspace, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	ws, err := m.factory.Create(ctx, cfg)
	if err != nil {
		m.logger.Error("failed to create workspace", "error", err)
		return nil, err
	}

	// Close may have run while the services were starting
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Warn("manager closed during create, stopping workspace", "id", ws.ID)
		m.factory.stopAll(context.WithoutCancel(ctx), ws.Gateway, ws.Database)
		return nil, ErrManagerClosed
	}
	err = m.workspaces.Register(ws)
	m.mu.Unlock()
	if err != nil {
		m.factory.stopAll(context.WithoutCancel(ctx), ws.Gateway, ws.Database)
		return nil, fmt.Errorf("register workspace: %w", err)
	}

	return ws, nil
}

// GetWorkspace retrieves a workspace by ID
func (m *Manager) GetWorkspace(id string) (*Workspace, error) {
	ws, err := m.workspaces.Get(id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) || id == "" {
			return nil, ErrWorkspaceNotFound
		}
		return nil, err
	}
	return ws, nil
}

// ListWorkspaces returns all live workspaces in creation order
func (m *Manager) ListWorkspaces() ([]*Workspace, error) {
	return m.workspaces.List(), nil
}

// DeleteWorkspace stops a workspace's services and forgets it
func (m *Manager) DeleteWorkspace(ctx context.Context, id string) error {
	ws, err := m.GetWorkspace(id)
	if err != nil {
		return err
	}

	m.logger.Info("deleting workspace", "id", id, "name", ws.Name)
	ws.setStatus(StatusDeleting)

	// Reverse of creation order: the gateway depends on the database
	var errs []error
	for _, svc := range []struct {
		name string
		stop func() error
	}{
		{"gateway", func() error { return m.factory.rt.StopService(ctx, ws.Gateway) }},
		{"database", func() error { return m.factory.rt.StopService(ctx, ws.Database) }},
	} {
		if err := svc.stop(); err != nil {
			m.logger.Error("failed to stop service", "workspace", id, "service", svc.name, "error", err)
			errs = append(errs, err)
		}
	}

	if _, err := m.workspaces.Deregister(id); err != nil && !errors.Is(err, registry.ErrNotFound) {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		ws.setStatus(StatusError)
		return fmt.Errorf("%w: %v", ErrContainerFailed, errors.Join(errs...))
	}
	return nil
}

// Execute runs a command in a workspace
func (m *Manager) Execute(ctx context.Context, workspaceID string, opts *ExecOptions) (*ExecResult, error) {
	if opts == nil || len(opts.Command) == 0 {
		return nil, fmt.Errorf("%w: command is required", ErrInvalidConfig)
	}

	ws, ctx, cancel, err := m.prepare(ctx, workspaceID, opts.Timeout)
	if err != nil {
		return nil, err
	}
	defer cancel()

	m.logger.Info("executing command",
		"workspace", workspaceID,
		"command", strings.Join(opts.Command, " "),
	)
	return ws.RunCommand(ctx, opts.Command)
}

// ExecuteSQL runs one SQL script in a workspace
func (m *Manager) ExecuteSQL(ctx context.Context, workspaceID string, opts *SQLOptions) (*ExecResult, error) {
	if opts == nil {
		return nil, fmt.Errorf("%w: sql is required", ErrInvalidConfig)
	}

	ws, ctx, cancel, err := m.prepare(ctx, workspaceID, opts.Timeout)
	if err != nil {
		return nil, err
	}
	defer cancel()

	m.logger.Info("executing sql", "workspace", workspaceID, "bytes", len(opts.SQL))
	return ws.RunSQL(ctx, opts.SQL)
}

// Apply runs scripts in order and then a command in a workspace
func (m *Manager) Apply(ctx context.Context, workspaceID string, opts *ApplyOptions) (*ExecResult, error) {
	if opts == nil || len(opts.Command) == 0 {
		return nil, fmt.Errorf("%w: command is required", ErrInvalidConfig)
	}

	ws, ctx, cancel, err := m.prepare(ctx, workspaceID, opts.Timeout)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if opts.StopOnFirstFailure != nil {
		policy := ws.Policy()
		policy.StopOnFirstFailure = *opts.StopOnFirstFailure
		ws = ws.WithPolicy(policy)
	}

	m.logger.Info("applying scripts",
		"workspace", workspaceID,
		"scripts", len(opts.Scripts),
		"stop_on_first_failure", ws.Policy().StopOnFirstFailure,
	)
	return ws.RunAllThenCommand(ctx, opts.Scripts, opts.Command)
}

func (m *Manager) prepare(ctx context.Context, workspaceID string, timeout time.Duration) (*Workspace, context.Context, context.CancelFunc, error) {
	if err := m.checkOpen(); err != nil {
		return nil, nil, nil, err
	}

	ws, err := m.GetWorkspace(workspaceID)
	if err != nil {
		return nil, nil, nil, err
	}

	if status := ws.Status(); status != StatusReady {
		return nil, nil, nil, fmt.Errorf("%w: %s is %s", ErrWorkspaceNotReady, workspaceID, status)
	}

	if timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		return ws, ctx, cancel, nil
	}
	return ws, ctx, func() {}, nil
}

// Close gracefully shuts down the manager
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.logger.Info("closing workspace manager", "workspaces", m.workspaces.Count())

	workspaces, _ := m.ListWorkspaces()
	for _, ws := range workspaces {
		if err := m.DeleteWorkspace(ctx, ws.ID); err != nil {
			m.logger.Error("failed to delete workspace on close", "id", ws.ID, "error", err)
		}
	}

	return nil
}
