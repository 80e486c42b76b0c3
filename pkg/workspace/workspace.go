// Package workspace provisions ephemeral PostgreSQL + PostgREST environments
// and runs commands and SQL scripts against them.
//
// A Workspace is three things wired together by a container runtime: a
// database service, a REST gateway service bound to it, and a control
// container bound to both. The Factory builds them in that order; the
// Workspace methods run commands in the control container after waiting
// for the database to accept connections.
package workspace

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/patina/pgworkspace/pkg/runtime"
)

// Status represents the current state of a workspace
type Status string

const (
	StatusCreating Status = "creating"
	StatusReady    Status = "ready"
	StatusError    Status = "error"
	StatusDeleting Status = "deleting"
)

const (
	DefaultAnonRole = "web_anon"
	DefaultSchema   = "api"
)

// Config holds per-workspace options for Factory.Create
type Config struct {
	Name     string `json:"name,omitempty"`
	AnonRole string `json:"anon_role,omitempty"`
	Schema   string `json:"schema,omitempty"`

	// Bootstrap installs BootstrapSQL as a database init script so the
	// anonymous role and schema exist when the database first starts.
	Bootstrap bool `json:"bootstrap,omitempty"`
}

func (c *Config) withDefaults() Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.AnonRole == "" {
		out.AnonRole = DefaultAnonRole
	}
	if out.Schema == "" {
		out.Schema = DefaultSchema
	}
	return out
}

// Workspace is a database service, a gateway bound to it and a control
// container bound to both.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is guarded by mu once the workspace is shared; read it
	// through LastUpdated.
	UpdatedAt time.Time `json:"updated_at"`

	// AnonRole and Schema never change after creation.
	AnonRole string `json:"anon_role"`
	Schema   string `json:"schema"`

	DatabaseEnv map[string]string `json:"database_env,omitempty"`
	GatewayEnv  map[string]string `json:"gateway_env,omitempty"`

	Database runtime.Service   `json:"-"`
	Gateway  runtime.Service   `json:"-"`
	Control  runtime.Container `json:"-"`

	rt     runtime.ContainerRuntime
	creds  Credentials
	policy ExecPolicy
	gate   *readinessGate
	logger *slog.Logger

	mu     sync.RWMutex
	status Status
}

// Status returns the current workspace status
func (w *Workspace) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// LastUpdated returns when the status last changed
func (w *Workspace) LastUpdated() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.UpdatedAt
}

func (w *Workspace) setStatus(s Status) {
	w.mu.Lock()
	w.status = s
	w.UpdatedAt = time.Now()
	w.mu.Unlock()
}

// Container returns the raw control container for callers that need
// lower-level access than the execution methods offer.
func (w *Workspace) Container() runtime.Container {
	return w.Control
}

// Credentials returns the superuser connection details
func (w *Workspace) Credentials() Credentials {
	return w.creds
}

// WithPolicy returns a view of w that executes with p.
// Both views share the same services and control container.
func (w *Workspace) WithPolicy(p ExecPolicy) *Workspace {
	w.mu.RLock()
	updated, status := w.UpdatedAt, w.status
	w.mu.RUnlock()

	return &Workspace{
		ID:          w.ID,
		Name:        w.Name,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   updated,
		AnonRole:    w.AnonRole,
		Schema:      w.Schema,
		DatabaseEnv: w.DatabaseEnv,
		GatewayEnv:  w.GatewayEnv,
		Database:    w.Database,
		Gateway:     w.Gateway,
		Control:     w.Control,
		rt:          w.rt,
		creds:       w.creds,
		policy:      p,
		gate:        w.gate,
		logger:      w.logger,
		status:      status,
	}
}

// Policy returns the execution policy in effect
func (w *Workspace) Policy() ExecPolicy {
	return w.policy
}

// generateID creates a unique workspace ID
func generateID() string {
	return "ws-" + uuid.NewString()
}

// defaultName derives a readable name from an ID
func defaultName(id string) string {
	short := strings.TrimPrefix(id, "ws-")
	if len(short) > 8 {
		short = short[:8]
	}
	return "workspace-" + short
}
