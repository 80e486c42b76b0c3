package workspace

import "context"

// WorkspaceManager defines the interface for workspace operations
type WorkspaceManager interface {
	CreateWorkspace(ctx context.Context, cfg *Config) (*Workspace, error)
	GetWorkspace(id string) (*Workspace, error)
	ListWorkspaces() ([]*Workspace, error)
	DeleteWorkspace(ctx context.Context, id string) error
	Execute(ctx context.Context, workspaceID string, opts *ExecOptions) (*ExecResult, error)
	ExecuteSQL(ctx context.Context, workspaceID string, opts *SQLOptions) (*ExecResult, error)
	Apply(ctx context.Context, workspaceID string, opts *ApplyOptions) (*ExecResult, error)
	Close(ctx context.Context) error
}
