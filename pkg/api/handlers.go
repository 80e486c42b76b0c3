package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/patina/pgworkspace/pkg/workspace"
)

// Handlers contains HTTP handlers for the workspace API
type Handlers struct {
	manager workspace.WorkspaceManager
	logger  *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(manager workspace.WorkspaceManager, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		manager: manager,
		logger:  logger,
	}
}

// Routes registers every endpoint on a new mux
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/workspaces", h.HandleWorkspaces)
	mux.HandleFunc("/workspaces/", h.HandleWorkspace)
	mux.HandleFunc("/health", h.HandleHealth)
	return mux
}

// HandleWorkspaces handles /workspaces endpoints
func (h *Handlers) HandleWorkspaces(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listWorkspaces(w, r)
	case http.MethodPost:
		h.createWorkspace(w, r)
	default:
		h.methodNotAllowed(w, r)
	}
}

// HandleWorkspace handles /workspaces/{id} endpoints
func (h *Handlers) HandleWorkspace(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/workspaces/"), "/")
	parts := strings.Split(path, "/")

	if len(parts) < 1 || parts[0] == "" {
		h.notFound(w, r)
		return
	}

	workspaceID := parts[0]

	switch len(parts) {
	case 1:
		switch r.Method {
		case http.MethodGet:
			h.getWorkspace(w, r, workspaceID)
		case http.MethodDelete:
			h.deleteWorkspace(w, r, workspaceID)
		default:
			h.methodNotAllowed(w, r)
		}
	case 2:
		var handle func(http.ResponseWriter, *http.Request, string)
		switch parts[1] {
		case "exec":
			handle = h.execInWorkspace
		case "sql":
			handle = h.sqlInWorkspace
		case "apply":
			handle = h.applyInWorkspace
		default:
			h.notFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			h.methodNotAllowed(w, r)
			return
		}
		handle(w, r, workspaceID)
	default:
		h.notFound(w, r)
	}
}

// HandleHealth handles health check requests
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// listWorkspaces returns all workspaces
func (h *Handlers) listWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := h.manager.ListWorkspaces()
	if err != nil {
		h.fail(w, err)
		return
	}

	items := make([]WorkspaceResponse, len(workspaces))
	for i, ws := range workspaces {
		items[i] = newWorkspaceResponse(ws)
	}

	h.json(w, http.StatusOK, ListWorkspacesResponse{Workspaces: items})
}

// createWorkspace creates a new workspace. An empty body uses the defaults.
func (h *Handlers) createWorkspace(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.errorWithCode(w, err, "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	ws, err := h.manager.CreateWorkspace(r.Context(), &workspace.Config{
		Name:      req.Name,
		AnonRole:  req.AnonRole,
		Schema:    req.Schema,
		Bootstrap: req.Bootstrap,
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	h.json(w, http.StatusOK, CreateWorkspaceResponse{Workspace: newWorkspaceResponse(ws)})
}

// getWorkspace returns a specific workspace
func (h *Handlers) getWorkspace(w http.ResponseWriter, r *http.Request, id string) {
	ws, err := h.manager.GetWorkspace(id)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.json(w, http.StatusOK, newWorkspaceResponse(ws))
}

// deleteWorkspace removes a workspace
func (h *Handlers) deleteWorkspace(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.manager.DeleteWorkspace(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// execInWorkspace executes a command in a workspace
func (h *Handlers) execInWorkspace(w http.ResponseWriter, r *http.Request, id string) {
	var req ExecRequest
	if !h.decode(w, r, &req) {
		return
	}

	if len(req.Command) == 0 {
		h.errorWithCode(w, "command is required", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.manager.Execute(r.Context(), id, &workspace.ExecOptions{
		Command: req.Command,
		Timeout: seconds(req.TimeoutSeconds),
	})
	h.result(w, result, err)
}

// sqlInWorkspace runs one SQL script in a workspace
func (h *Handlers) sqlInWorkspace(w http.ResponseWriter, r *http.Request, id string) {
	var req SQLRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.SQL == nil {
		h.errorWithCode(w, "sql is required", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.manager.ExecuteSQL(r.Context(), id, &workspace.SQLOptions{
		SQL:     *req.SQL,
		Timeout: seconds(req.TimeoutSeconds),
	})
	h.result(w, result, err)
}

// applyInWorkspace runs scripts in order and then a command
func (h *Handlers) applyInWorkspace(w http.ResponseWriter, r *http.Request, id string) {
	var req ApplyRequest
	if !h.decode(w, r, &req) {
		return
	}

	if len(req.Command) == 0 {
		h.errorWithCode(w, "command is required", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.manager.Apply(r.Context(), id, &workspace.ApplyOptions{
		Scripts:            req.Scripts,
		Command:            req.Command,
		StopOnFirstFailure: req.StopOnFirstFailure,
		Timeout:            seconds(req.TimeoutSeconds),
	})
	h.result(w, result, err)
}

// Helper methods

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.errorWithCode(w, err, "INVALID_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

// result writes an execution outcome. A non-zero exit is still 200.
func (h *Handlers) result(w http.ResponseWriter, result *workspace.ExecResult, err error) {
	if err != nil {
		h.fail(w, err)
		return
	}

	h.json(w, http.StatusOK, ExecResponse{
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		Duration: result.Duration,
	})
}

// fail maps workspace errors onto status codes
func (h *Handlers) fail(w http.ResponseWriter, err error) {
	switch {
	case workspace.IsNotFound(err):
		h.errorWithCode(w, err, "NOT_FOUND", http.StatusNotFound)
	case workspace.IsInvalid(err):
		h.errorWithCode(w, err, "INVALID_REQUEST", http.StatusBadRequest)
	case workspace.IsNotReady(err):
		h.errorWithCode(w, err, "NOT_READY", http.StatusConflict)
	case workspace.IsReadinessTimeout(err):
		h.errorWithCode(w, err, "READINESS_TIMEOUT", http.StatusGatewayTimeout)
	case errors.Is(err, context.DeadlineExceeded):
		h.errorWithCode(w, err, "TIMEOUT", http.StatusGatewayTimeout)
	case errors.Is(err, workspace.ErrManagerClosed):
		h.errorWithCode(w, err, "UNAVAILABLE", http.StatusServiceUnavailable)
	default:
		h.logger.Error("request failed", "error", err)
		h.errorWithCode(w, err, "INTERNAL", http.StatusInternalServerError)
	}
}

func (h *Handlers) json(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) error(w http.ResponseWriter, err interface{}, status int) {
	h.errorWithCode(w, err, "", status)
}

func (h *Handlers) errorWithCode(w http.ResponseWriter, err interface{}, code string, status int) {
	resp := ErrorResponse{
		Code: code,
	}

	switch v := err.(type) {
	case string:
		resp.Error = v
	case error:
		resp.Error = v.Error()
	default:
		resp.Error = "unknown error"
	}

	h.json(w, status, resp)
}

func (h *Handlers) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func (h *Handlers) notFound(w http.ResponseWriter, r *http.Request) {
	h.error(w, "not found", http.StatusNotFound)
}
