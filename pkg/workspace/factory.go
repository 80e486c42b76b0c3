package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/patina/pgworkspace/pkg/runtime"
)

// FactoryConfig holds the images, credentials and policies shared by every
// workspace a Factory creates.
type FactoryConfig struct {
	DatabaseImage string
	GatewayImage  string
	ControlImage  string

	Credentials Credentials

	GatewayAlias string
	GatewayPort  int

	ControlPackages []string
	WorkDir         string

	Readiness ReadinessConfig
	Policy    ExecPolicy
}

// DefaultFactoryConfig returns the pinned images and development
// credentials the workspace is designed around.
func DefaultFactoryConfig() FactoryConfig {
	return FactoryConfig{
		DatabaseImage: "postgres:17.0-alpine",
		GatewayImage:  "postgrest/postgrest:v12.2.3",
		ControlImage:  "alpine:3.21.3",
		Credentials: Credentials{
			User:     "postgres",
			Password: "postgres",
			Database: "postgres",
			Host:     "postgres",
			Port:     5432,
		},
		GatewayAlias:    "postgrest",
		GatewayPort:     3000,
		ControlPackages: []string{"postgresql-client", "curl"},
		WorkDir:         "/app",
		Readiness:       DefaultReadinessConfig(),
		Policy:          DefaultExecPolicy(),
	}
}

// WorkspaceEnv carries the workspace ID on both services
const WorkspaceEnv = "PGWS_WORKSPACE_ID"

// Factory builds workspaces on a container runtime
type Factory struct {
	rt     runtime.ContainerRuntime
	config FactoryConfig
	logger *slog.Logger
}

// NewFactory creates a new workspace factory
func NewFactory(rt runtime.ContainerRuntime, config FactoryConfig, logger *slog.Logger) (*Factory, error) {
	if rt == nil {
		return nil, ErrNoRuntime
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := config.Credentials.Validate(); err != nil {
		return nil, err
	}
	if config.DatabaseImage == "" || config.GatewayImage == "" || config.ControlImage == "" {
		return nil, fmt.Errorf("%w: database, gateway and control images are required", ErrInvalidConfig)
	}
	if config.GatewayAlias == "" || config.GatewayPort <= 0 {
		return nil, fmt.Errorf("%w: gateway alias and port are required", ErrInvalidConfig)
	}
	if config.Readiness.MaxAttempts < 0 || config.Readiness.Interval < 0 {
		return nil, fmt.Errorf("%w: readiness bounds must not be negative", ErrInvalidConfig)
	}

	return &Factory{
		rt:     rt,
		config: config,
		logger: logger,
	}, nil
}

// Create provisions a new workspace. The database is declared first, the
// gateway second with a binding to it, and the control container last
// with bindings to both; the gateway's connection settings reference the
// database alias and credentials, so this order cannot change.
//
// No readiness check happens here. Any failure is returned as is; there
// is no retry at this layer.
func (f *Factory) Create(ctx context.Context, cfg *Config) (*Workspace, error) {
	c := cfg.withDefaults()
	if err := validateIdentifier("anon role", c.AnonRole); err != nil {
		return nil, err
	}
	if err := validateIdentifier("schema", c.Schema); err != nil {
		return nil, err
	}

	id := generateID()
	name := c.Name
	if name == "" {
		name = defaultName(id)
	}

	creds := f.config.Credentials
	f.logger.Info("creating workspace",
		"workspace", id,
		"name", name,
		"anon_role", c.AnonRole,
		"schema", c.Schema,
	)

	// Database. WorkspaceEnv keeps otherwise identical specs apart, since
	// engines that address services by content would share one instance.
	dbEnv := []runtime.EnvVar{
		{Name: WorkspaceEnv, Value: id},
		{Name: "POSTGRES_USER", Value: creds.User},
		{Name: "POSTGRES_PASSWORD", Value: creds.Password},
		{Name: "POSTGRES_DB", Value: creds.Database},
		{Name: "DB_ANON_ROLE", Value: c.AnonRole},
		{Name: "DB_SCHEMA", Value: c.Schema},
	}
	dbSpec := runtime.ServiceSpec{
		Name:          "postgres",
		Image:         f.config.DatabaseImage,
		Env:           dbEnv,
		Ports:         []int{creds.Port},
		UseEntrypoint: true,
	}
	if c.Bootstrap {
		dbSpec.Files = []runtime.File{{
			Path:     bootstrapInitPath,
			Contents: BootstrapSQL(c.AnonRole, c.Schema),
		}}
	}

	database, err := f.rt.StartService(ctx, dbSpec)
	if err != nil {
		return nil, fmt.Errorf("%w: database service: %v", ErrContainerFailed, err)
	}

	// Gateway, bound to the database under its alias
	gwEnv := []runtime.EnvVar{
		{Name: WorkspaceEnv, Value: id},
		{Name: "PGRST_DB_URI", Value: creds.URI()},
		{Name: "PGRST_DB_ANON_ROLE", Value: c.AnonRole},
		{Name: "PGRST_DB_SCHEMA", Value: c.Schema},
	}
	gateway, err := f.rt.StartService(ctx, runtime.ServiceSpec{
		Name:          f.config.GatewayAlias,
		Image:         f.config.GatewayImage,
		Env:           gwEnv,
		Ports:         []int{f.config.GatewayPort},
		Bindings:      []runtime.Binding{{Alias: creds.Host, Service: database}},
		UseEntrypoint: true,
	})
	if err != nil {
		f.stopAll(ctx, database)
		return nil, fmt.Errorf("%w: gateway service: %v", ErrContainerFailed, err)
	}

	// Control container with client tooling and both bindings
	var setup [][]string
	if len(f.config.ControlPackages) > 0 {
		setup = append(setup, append([]string{"apk", "--update", "add"}, f.config.ControlPackages...))
	}
	control, err := f.rt.NewContainer(ctx, runtime.ContainerSpec{
		Image: f.config.ControlImage,
		Setup: setup,
		Env:   []runtime.EnvVar{{Name: "PGPASSWORD", Value: creds.Password}},
		Bindings: []runtime.Binding{
			{Alias: creds.Host, Service: database},
			{Alias: f.config.GatewayAlias, Service: gateway},
		},
		WorkDir: f.config.WorkDir,
	})
	if err != nil {
		f.stopAll(ctx, gateway, database)
		return nil, fmt.Errorf("%w: control container: %v", ErrContainerFailed, err)
	}

	now := time.Now()
	ws := &Workspace{
		ID:          id,
		Name:        name,
		CreatedAt:   now,
		UpdatedAt:   now,
		AnonRole:    c.AnonRole,
		Schema:      c.Schema,
		DatabaseEnv: runtime.EnvMap(dbEnv),
		GatewayEnv:  maskURI(runtime.EnvMap(gwEnv), creds),
		Database:    database,
		Gateway:     gateway,
		Control:     control,
		rt:          f.rt,
		creds:       creds,
		policy:      f.config.Policy,
		gate:        newReadinessGate(f.rt, creds, f.config.Readiness),
		logger:      f.logger.With("workspace", id),
		status:      StatusReady,
	}
	delete(ws.DatabaseEnv, "POSTGRES_PASSWORD")

	f.logger.Info("workspace created",
		"workspace", id,
		"database_image", f.config.DatabaseImage,
		"gateway_image", f.config.GatewayImage,
		"db_uri", creds.MaskedURI(),
	)

	return ws, nil
}

// stopAll releases services declared before a failed step
func (f *Factory) stopAll(ctx context.Context, services ...runtime.Service) {
	for _, svc := range services {
		if err := f.rt.StopService(ctx, svc); err != nil {
			f.logger.Warn("failed to stop service after create failure", "image", svc.Image(), "error", err)
		}
	}
}

// maskURI hides the password in the recorded gateway environment
func maskURI(env map[string]string, creds Credentials) map[string]string {
	if _, ok := env["PGRST_DB_URI"]; ok {
		env["PGRST_DB_URI"] = creds.MaskedURI()
	}
	return env
}
