package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/patina/pgworkspace/pkg/workspace"
)

// MockManager is a test implementation of workspace manager
type MockManager struct {
	Workspaces map[string]*workspace.Workspace
	CreateErr  error
	GetErr     error
	ListErr    error
	DeleteErr  error
	ExecuteErr error

	// Result is returned by Execute, ExecuteSQL and Apply
	Result *workspace.ExecResult

	// Last options seen by each execution method
	LastExec  *workspace.ExecOptions
	LastSQL   *workspace.SQLOptions
	LastApply *workspace.ApplyOptions

	mu      sync.Mutex
	order   []string
	created int
	logger  *slog.Logger
}

var _ workspace.WorkspaceManager = (*MockManager)(nil)

// NewMockManager creates a new mock manager
func NewMockManager() *MockManager {
	return &MockManager{
		Workspaces: make(map[string]*workspace.Workspace),
		Result: &workspace.ExecResult{
			ExitCode: 0,
			Stdout:   "mock output",
		},
		logger: slog.Default(),
	}
}

// CreateWorkspace mock implementation
func (m *MockManager) CreateWorkspace(ctx context.Context, cfg *workspace.Config) (*workspace.Workspace, error) {
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.created++
	ws := &workspace.Workspace{
		ID:       fmt.Sprintf("ws-test-%d", m.created),
		AnonRole: workspace.DefaultAnonRole,
		Schema:   workspace.DefaultSchema,
	}
	if cfg != nil {
		ws.Name = cfg.Name
		if cfg.AnonRole != "" {
			ws.AnonRole = cfg.AnonRole
		}
		if cfg.Schema != "" {
			ws.Schema = cfg.Schema
		}
	}

	m.Workspaces[ws.ID] = ws
	m.order = append(m.order, ws.ID)
	return ws, nil
}

// GetWorkspace mock implementation
func (m *MockManager) GetWorkspace(id string) (*workspace.Workspace, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.Workspaces[id]
	if !ok {
		return nil, workspace.ErrWorkspaceNotFound
	}
	return ws, nil
}

// ListWorkspaces mock implementation
func (m *MockManager) ListWorkspaces() ([]*workspace.Workspace, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]*workspace.Workspace, 0, len(m.order))
	for _, id := range m.order {
		if ws, ok := m.Workspaces[id]; ok {
			list = append(list, ws)
		}
	}
	return list, nil
}

// DeleteWorkspace mock implementation
func (m *MockManager) DeleteWorkspace(ctx context.Context, id string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.Workspaces[id]; !ok {
		return workspace.ErrWorkspaceNotFound
	}
	delete(m.Workspaces, id)
	return nil
}

// Execute mock implementation
func (m *MockManager) Execute(ctx context.Context, workspaceID string, opts *workspace.ExecOptions) (*workspace.ExecResult, error) {
	m.LastExec = opts
	return m.result(workspaceID)
}

// ExecuteSQL mock implementation
func (m *MockManager) ExecuteSQL(ctx context.Context, workspaceID string, opts *workspace.SQLOptions) (*workspace.ExecResult, error) {
	m.LastSQL = opts
	return m.result(workspaceID)
}

// Apply mock implementation
func (m *MockManager) Apply(ctx context.Context, workspaceID string, opts *workspace.ApplyOptions) (*workspace.ExecResult, error) {
	m.LastApply = opts
	return m.result(workspaceID)
}

func (m *MockManager) result(workspaceID string) (*workspace.ExecResult, error) {
	if m.ExecuteErr != nil {
		return nil, m.ExecuteErr
	}
	if _, err := m.GetWorkspace(workspaceID); err != nil {
		return nil, err
	}
	return m.Result, nil
}

// Close mock implementation
func (m *MockManager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Workspaces = make(map[string]*workspace.Workspace)
	m.order = nil
	return nil
}
