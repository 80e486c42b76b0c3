package daggerrt

import (
	"context"
	"fmt"
	"log/slog"

	"dagger.io/dagger"

	"github.com/patina/pgworkspace/pkg/runtime"
)

// Options tunes the Dagger runtime.
type Options struct {
	// EagerStart starts services at declaration time so image pull and
	// startup failures surface from StartService and the service keeps
	// running until StopService or the end of the session.
	EagerStart bool
}

// Runtime implements runtime.ContainerRuntime on a Dagger client.
type Runtime struct {
	client *dagger.Client
	opts   Options
	logger *slog.Logger
}

var _ runtime.ContainerRuntime = (*Runtime)(nil)

// New creates a Dagger-backed runtime
func New(client *dagger.Client, opts Options, logger *slog.Logger) (*Runtime, error) {
	if client == nil {
		return nil, fmt.Errorf("dagger client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		client: client,
		opts:   opts,
		logger: logger,
	}, nil
}

type service struct {
	svc   *dagger.Service
	image string
}

func (s *service) Image() string { return s.image }

type container struct {
	ctr   *dagger.Container
	image string
}

func (c *container) Image() string { return c.image }

// StartService declares a service from spec and, with EagerStart, starts it
func (r *Runtime) StartService(ctx context.Context, spec runtime.ServiceSpec) (runtime.Service, error) {
	if spec.Image == "" {
		return nil, fmt.Errorf("service %q: image is required", spec.Name)
	}

	ctr := r.client.Container().From(spec.Image)

	for _, b := range spec.Bindings {
		ctr = ctr.WithServiceBinding(b.Alias, mustService(b.Service).svc)
	}

	for _, env := range spec.Env {
		ctr = ctr.WithEnvVariable(env.Name, env.Value)
	}

	for _, f := range spec.Files {
		ctr = ctr.WithNewFile(f.Path, f.Contents)
	}

	for _, port := range spec.Ports {
		ctr = ctr.WithExposedPort(port)
	}

	svc := ctr.AsService(dagger.ContainerAsServiceOpts{
		UseEntrypoint: spec.UseEntrypoint,
	})

	if r.opts.EagerStart {
		r.logger.Info("starting service", "service", spec.Name, "image", spec.Image)
		started, err := svc.Start(ctx)
		if err != nil {
			return nil, fmt.Errorf("start service %q: %w", spec.Name, err)
		}
		svc = started
	}

	return &service{svc: svc, image: spec.Image}, nil
}

// NewContainer builds the control container and forces its setup steps so
// that image and package failures are reported here rather than on first use.
func (r *Runtime) NewContainer(ctx context.Context, spec runtime.ContainerSpec) (runtime.Container, error) {
	if spec.Image == "" {
		return nil, fmt.Errorf("container image is required")
	}

	ctr := r.client.Container().From(spec.Image)

	for _, args := range spec.Setup {
		ctr = ctr.WithExec(args)
	}

	for _, env := range spec.Env {
		ctr = ctr.WithEnvVariable(env.Name, env.Value)
	}

	for _, b := range spec.Bindings {
		ctr = ctr.WithServiceBinding(b.Alias, mustService(b.Service).svc)
	}

	if spec.WorkDir != "" {
		ctr = ctr.WithWorkdir(spec.WorkDir)
	}

	synced, err := ctr.Sync(ctx)
	if err != nil {
		return nil, fmt.Errorf("build container from %s: %w", spec.Image, err)
	}

	return &container{ctr: synced, image: spec.Image}, nil
}

// BindService attaches svc to ctr under alias
func (r *Runtime) BindService(ctr runtime.Container, alias string, svc runtime.Service) runtime.Container {
	c := mustContainer(ctr)
	return &container{
		ctr:   c.ctr.WithServiceBinding(alias, mustService(svc).svc),
		image: c.image,
	}
}

// WithEnv sets an environment variable on ctr
func (r *Runtime) WithEnv(ctr runtime.Container, name, value string) runtime.Container {
	c := mustContainer(ctr)
	return &container{
		ctr:   c.ctr.WithEnvVariable(name, value),
		image: c.image,
	}
}

// WithoutEnv removes an environment variable from ctr
func (r *Runtime) WithoutEnv(ctr runtime.Container, name string) runtime.Container {
	c := mustContainer(ctr)
	return &container{
		ctr:   c.ctr.WithoutEnvVariable(name),
		image: c.image,
	}
}

// WriteFile places contents at path inside ctr
func (r *Runtime) WriteFile(ctr runtime.Container, path, contents string) runtime.Container {
	c := mustContainer(ctr)
	return &container{
		ctr:   c.ctr.WithNewFile(path, contents),
		image: c.image,
	}
}

// StopService stops a service started by this runtime
func (r *Runtime) StopService(ctx context.Context, svc runtime.Service) error {
	s := mustService(svc)
	if _, err := s.svc.Stop(ctx); err != nil {
		return fmt.Errorf("stop service %s: %w", s.image, err)
	}
	return nil
}

// Endpoint tunnels svc to the host and returns its address for scheme.
func (r *Runtime) Endpoint(ctx context.Context, svc runtime.Service, scheme string) (string, error) {
	s := mustService(svc)
	tunnel, err := r.client.Host().Tunnel(s.svc).Start(ctx)
	if err != nil {
		return "", fmt.Errorf("tunnel %s: %w", s.image, err)
	}
	return tunnel.Endpoint(ctx, dagger.ServiceEndpointOpts{Scheme: scheme})
}

func mustService(s runtime.Service) *service {
	svc, ok := s.(*service)
	if !ok {
		panic(fmt.Sprintf("daggerrt: foreign service handle %T", s))
	}
	return svc
}

func mustContainer(c runtime.Container) *container {
	ctr, ok := c.(*container)
	if !ok {
		panic(fmt.Sprintf("daggerrt: foreign container handle %T", c))
	}
	return ctr
}
