// Package runtime defines the container capability the workspace builds on.
//
// The workspace never talks to a concrete engine. It declares services,
// derives containers from one another and executes commands through a
// ContainerRuntime, so the same orchestration code runs against Dagger in
// production and an in-memory fake in tests.
package runtime

import "context"

// Service is an opaque handle to a long-running background service.
type Service interface {
	Image() string
}

// Container is an opaque, immutable handle to a command-execution
// environment. Every With-style operation returns a new Container.
type Container interface {
	Image() string
}

// EnvVar is a single environment variable. Order is preserved because
// some engines key their caches on it.
type EnvVar struct {
	Name  string
	Value string
}

// Binding attaches a service to a container under a network alias.
type Binding struct {
	Alias   string
	Service Service
}

// File is written into an image before it is started.
type File struct {
	Path     string
	Contents string
}

// ServiceSpec describes a service to declare and start.
type ServiceSpec struct {
	Name          string
	Image         string
	Env           []EnvVar
	Files         []File
	Ports         []int
	Bindings      []Binding
	UseEntrypoint bool
}

// ContainerSpec describes a command-execution container.
// Setup commands run before Env, Bindings and WorkDir are applied.
type ContainerSpec struct {
	Image    string
	Setup    [][]string
	Env      []EnvVar
	Bindings []Binding
	WorkDir  string
}

// ExecOutput is the raw outcome of one exec step.
type ExecOutput struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ContainerRuntime is the orchestration engine capability.
//
// Exec must not fail for a non-zero exit code; it returns an error only
// when the engine itself could not run the step.
type ContainerRuntime interface {
	StartService(ctx context.Context, spec ServiceSpec) (Service, error)
	NewContainer(ctx context.Context, spec ContainerSpec) (Container, error)
	BindService(ctr Container, alias string, svc Service) Container
	WithEnv(ctr Container, name, value string) Container
	WithoutEnv(ctr Container, name string) Container
	WriteFile(ctr Container, path, contents string) Container
	Exec(ctx context.Context, ctr Container, args []string) (Container, *ExecOutput, error)
	StopService(ctx context.Context, svc Service) error
}

// EnvMap flattens env into a map. Later entries win.
func EnvMap(env []EnvVar) map[string]string {
	m := make(map[string]string, len(env))
	for _, e := range env {
		m[e.Name] = e.Value
	}
	return m
}

// Tunneler is implemented by runtimes that can expose a service to the host.
type Tunneler interface {
	Endpoint(ctx context.Context, svc Service, scheme string) (string, error)
}
