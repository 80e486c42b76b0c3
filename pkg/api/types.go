package api

import (
	"time"

	"github.com/patina/pgworkspace/pkg/workspace"
)

// CreateWorkspaceRequest represents a request to create a new workspace
type CreateWorkspaceRequest struct {
	Name      string `json:"name,omitempty"`
	AnonRole  string `json:"anon_role,omitempty"`
	Schema    string `json:"schema,omitempty"`
	Bootstrap bool   `json:"bootstrap,omitempty"`
}

// WorkspaceResponse is the public view of a workspace
type WorkspaceResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Status      string            `json:"status"`
	AnonRole    string            `json:"anon_role"`
	Schema      string            `json:"schema"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	DatabaseEnv map[string]string `json:"database_env,omitempty"`
	GatewayEnv  map[string]string `json:"gateway_env,omitempty"`
}

func newWorkspaceResponse(ws *workspace.Workspace) WorkspaceResponse {
	return WorkspaceResponse{
		ID:          ws.ID,
		Name:        ws.Name,
		Status:      string(ws.Status()),
		AnonRole:    ws.AnonRole,
		Schema:      ws.Schema,
		CreatedAt:   ws.CreatedAt,
		UpdatedAt:   ws.LastUpdated(),
		DatabaseEnv: ws.DatabaseEnv,
		GatewayEnv:  ws.GatewayEnv,
	}
}

// CreateWorkspaceResponse contains the created workspace
type CreateWorkspaceResponse struct {
	Workspace WorkspaceResponse `json:"workspace"`
}

// ListWorkspacesResponse contains all workspaces
type ListWorkspacesResponse struct {
	Workspaces []WorkspaceResponse `json:"workspaces"`
}

// ExecRequest represents a command execution request
type ExecRequest struct {
	Command        []string `json:"command"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// SQLRequest runs one SQL script. Any contents are accepted, including an
// empty script; only a missing field is rejected.
type SQLRequest struct {
	SQL            *string `json:"sql"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"`
}

// ApplyRequest runs scripts in order and then a command
type ApplyRequest struct {
	Scripts            []string `json:"scripts"`
	Command            []string `json:"command"`
	StopOnFirstFailure *bool    `json:"stop_on_first_failure,omitempty"`
	TimeoutSeconds     int      `json:"timeout_seconds,omitempty"`
}

// ExecResponse contains command execution results
type ExecResponse struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Duration string `json:"duration,omitempty"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
