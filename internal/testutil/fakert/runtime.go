// Package fakert is an in-memory runtime.ContainerRuntime for tests.
//
// It understands just enough of the control container's toolbox to drive
// the workspace: true, false, echo, cat, sh -c "echo ...|exit N",
// pg_isready and psql -f against a tiny per-service table catalog.
package fakert

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/patina/pgworkspace/pkg/runtime"
)

// Runtime is a fake container runtime
type Runtime struct {
	// FailImages makes StartService and NewContainer fail for these images
	FailImages map[string]error
	// Unreachable makes every readiness probe fail
	Unreachable bool
	// NotReadyFor makes the first N readiness probes fail
	NotReadyFor int
	// ExecErr makes Exec fail as if the engine were unreachable
	ExecErr error

	mu       sync.Mutex
	services []*Service
	byKey    map[string]*Service
	execs    []ExecRecord
	probes   int
}

var _ runtime.ContainerRuntime = (*Runtime)(nil)

// New creates a fake runtime
func New() *Runtime {
	return &Runtime{
		FailImages: make(map[string]error),
		byKey:      make(map[string]*Service),
	}
}

// ExecRecord is one Exec call as seen by the runtime
type ExecRecord struct {
	Image string
	Args  []string
	Env   map[string]string
	Files []string
}

// Service is a fake service. Services whose env carries POSTGRES_USER get
// their own Database.
type Service struct {
	Spec    runtime.ServiceSpec
	db      *Database
	mu      sync.Mutex
	stopped bool
}

func (s *Service) Image() string { return s.Spec.Image }

// Env returns the service environment
func (s *Service) Env() map[string]string { return runtime.EnvMap(s.Spec.Env) }

// Database returns the service's catalog, nil for non-database services
func (s *Service) Database() *Database { return s.db }

// Stopped reports whether StopService was called
func (s *Service) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Container is a fake immutable container
type Container struct {
	image    string
	setup    [][]string
	env      map[string]string
	files    map[string]string
	bindings map[string]*Service
	workdir  string
}

func (c *Container) Image() string { return c.image }

// Env returns a copy of the container environment
func (c *Container) Env() map[string]string { return copyMap(c.env) }

// WorkDir returns the working directory
func (c *Container) WorkDir() string { return c.workdir }

// Setup returns the setup commands run at construction
func (c *Container) Setup() [][]string { return c.setup }

// Binding returns the service bound under alias
func (c *Container) Binding(alias string) *Service { return c.bindings[alias] }

// Aliases returns the bound aliases, sorted
func (c *Container) Aliases() []string {
	out := make([]string, 0, len(c.bindings))
	for a := range c.bindings {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// File returns the contents at p
func (c *Container) File(p string) (string, bool) {
	v, ok := c.files[c.resolve(p)]
	return v, ok
}

func (c *Container) resolve(p string) string {
	if path.IsAbs(p) || c.workdir == "" {
		return path.Clean(p)
	}
	return path.Join(c.workdir, p)
}

func (c *Container) clone() *Container {
	bindings := make(map[string]*Service, len(c.bindings))
	for k, v := range c.bindings {
		bindings[k] = v
	}
	return &Container{
		image:    c.image,
		setup:    c.setup,
		env:      copyMap(c.env),
		files:    copyMap(c.files),
		bindings: bindings,
		workdir:  c.workdir,
	}
}

// StartService declares a fake service. Like Dagger, an identical spec
// resolves to the service that is already running.
func (r *Runtime) StartService(ctx context.Context, spec runtime.ServiceSpec) (runtime.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := r.FailImages[spec.Image]; ok {
		return nil, err
	}
	for _, b := range spec.Bindings {
		if _, ok := b.Service.(*Service); !ok {
			return nil, fmt.Errorf("foreign service handle %T", b.Service)
		}
	}

	key := specKey(spec)

	r.mu.Lock()
	defer r.mu.Unlock()
	if running, ok := r.byKey[key]; ok && !running.Stopped() {
		return running, nil
	}

	svc := &Service{Spec: spec}
	if _, ok := runtime.EnvMap(spec.Env)["POSTGRES_USER"]; ok {
		svc.db = newDatabase()
	}
	r.byKey[key] = svc
	r.services = append(r.services, svc)
	return svc, nil
}

// specKey identifies a service by its content, bindings by instance
func specKey(spec runtime.ServiceSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "image=%s entrypoint=%t ports=%v", spec.Image, spec.UseEntrypoint, spec.Ports)
	for _, e := range spec.Env {
		fmt.Fprintf(&b, " env:%s=%s", e.Name, e.Value)
	}
	for _, f := range spec.Files {
		fmt.Fprintf(&b, " file:%s=%q", f.Path, f.Contents)
	}
	for _, bd := range spec.Bindings {
		fmt.Fprintf(&b, " bind:%s=%p", bd.Alias, bd.Service)
	}
	return b.String()
}

// NewContainer builds a fake container
func (r *Runtime) NewContainer(ctx context.Context, spec runtime.ContainerSpec) (runtime.Container, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := r.FailImages[spec.Image]; ok {
		return nil, err
	}

	c := &Container{
		image:    spec.Image,
		setup:    spec.Setup,
		env:      runtime.EnvMap(spec.Env),
		files:    make(map[string]string),
		bindings: make(map[string]*Service),
		workdir:  spec.WorkDir,
	}
	for _, b := range spec.Bindings {
		svc, ok := b.Service.(*Service)
		if !ok {
			return nil, fmt.Errorf("foreign service handle %T", b.Service)
		}
		c.bindings[b.Alias] = svc
	}
	return c, nil
}

// BindService binds svc under alias
func (r *Runtime) BindService(ctr runtime.Container, alias string, svc runtime.Service) runtime.Container {
	c := ctr.(*Container).clone()
	c.bindings[alias] = svc.(*Service)
	return c
}

// WithEnv sets an environment variable
func (r *Runtime) WithEnv(ctr runtime.Container, name, value string) runtime.Container {
	c := ctr.(*Container).clone()
	c.env[name] = value
	return c
}

// WithoutEnv unsets an environment variable
func (r *Runtime) WithoutEnv(ctr runtime.Container, name string) runtime.Container {
	c := ctr.(*Container).clone()
	delete(c.env, name)
	return c
}

// WriteFile writes a file
func (r *Runtime) WriteFile(ctr runtime.Container, p, contents string) runtime.Container {
	c := ctr.(*Container).clone()
	c.files[c.resolve(p)] = contents
	return c
}

// StopService marks svc stopped
func (r *Runtime) StopService(ctx context.Context, svc runtime.Service) error {
	s := svc.(*Service)
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

// Exec runs args against the fake toolbox
func (r *Runtime) Exec(ctx context.Context, ctr runtime.Container, args []string) (runtime.Container, *runtime.ExecOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if r.ExecErr != nil {
		return nil, nil, r.ExecErr
	}
	if len(args) == 0 {
		return nil, nil, fmt.Errorf("command is required")
	}

	c := ctr.(*Container)
	files := make([]string, 0, len(c.files))
	for f := range c.files {
		files = append(files, f)
	}
	sort.Strings(files)

	r.mu.Lock()
	r.execs = append(r.execs, ExecRecord{
		Image: c.image,
		Args:  append([]string(nil), args...),
		Env:   copyMap(c.env),
		Files: files,
	})
	r.mu.Unlock()

	out := r.run(c, args)
	return c.clone(), out, nil
}

func (r *Runtime) run(c *Container, args []string) *runtime.ExecOutput {
	switch args[0] {
	case "true":
		return &runtime.ExecOutput{}
	case "false":
		return &runtime.ExecOutput{ExitCode: 1}
	case "echo":
		return &runtime.ExecOutput{Stdout: strings.Join(args[1:], " ") + "\n"}
	case "cat":
		var b strings.Builder
		for _, f := range args[1:] {
			contents, ok := c.File(f)
			if !ok {
				return &runtime.ExecOutput{ExitCode: 1, Stderr: fmt.Sprintf("cat: can't open '%s': No such file or directory\n", f)}
			}
			b.WriteString(contents)
		}
		return &runtime.ExecOutput{Stdout: b.String()}
	case "sh":
		return runShell(args)
	case "pg_isready":
		return r.pgIsReady(c, args)
	case "psql":
		return r.psql(c, args)
	default:
		return &runtime.ExecOutput{
			ExitCode: 127,
			Stderr:   fmt.Sprintf("exec: %q: executable file not found in $PATH\n", args[0]),
		}
	}
}

func runShell(args []string) *runtime.ExecOutput {
	if len(args) < 3 || args[1] != "-c" {
		return &runtime.ExecOutput{ExitCode: 2, Stderr: "sh: unsupported invocation\n"}
	}
	script := strings.TrimSpace(args[2])
	switch {
	case script == "true":
		return &runtime.ExecOutput{}
	case script == "false":
		return &runtime.ExecOutput{ExitCode: 1}
	case strings.HasPrefix(script, "echo "):
		return &runtime.ExecOutput{Stdout: strings.Trim(strings.TrimPrefix(script, "echo "), `"'`) + "\n"}
	case strings.HasPrefix(script, "exit "):
		var code int
		fmt.Sscanf(strings.TrimPrefix(script, "exit "), "%d", &code)
		return &runtime.ExecOutput{ExitCode: code}
	}
	return &runtime.ExecOutput{ExitCode: 127, Stderr: "sh: unsupported script\n"}
}

func (r *Runtime) pgIsReady(c *Container, args []string) *runtime.ExecOutput {
	host := flagValue(args, "-h")
	notReady := &runtime.ExecOutput{ExitCode: 2, Stdout: host + ":5432 - no response\n"}

	svc := c.bindings[host]
	if svc == nil || svc.db == nil || svc.Stopped() {
		return notReady
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes++
	if r.Unreachable || r.probes <= r.NotReadyFor {
		return notReady
	}
	return &runtime.ExecOutput{Stdout: host + ":5432 - accepting connections\n"}
}

func (r *Runtime) psql(c *Container, args []string) *runtime.ExecOutput {
	host := flagValue(args, "-h")
	user := flagValue(args, "-U")
	script := flagValue(args, "-f")
	onErrorStop := false
	for i, a := range args {
		if a == "-v" && i+1 < len(args) && strings.EqualFold(args[i+1], "ON_ERROR_STOP=1") {
			onErrorStop = true
		}
	}

	svc := c.bindings[host]
	if svc == nil || svc.db == nil || svc.Stopped() {
		return &runtime.ExecOutput{
			ExitCode: 2,
			Stderr:   fmt.Sprintf("psql: error: could not translate host name \"%s\" to address\n", host),
		}
	}

	env := svc.Env()
	if user != env["POSTGRES_USER"] || c.env["PGPASSWORD"] != env["POSTGRES_PASSWORD"] {
		return &runtime.ExecOutput{
			ExitCode: 2,
			Stderr:   fmt.Sprintf("psql: error: FATAL:  password authentication failed for user \"%s\"\n", user),
		}
	}

	contents, ok := c.File(script)
	if !ok {
		return &runtime.ExecOutput{
			ExitCode: 1,
			Stderr:   fmt.Sprintf("psql: error: %s: No such file or directory\n", script),
		}
	}

	return svc.db.exec(script, contents, onErrorStop)
}

// Execs returns every Exec call so far
func (r *Runtime) Execs() []ExecRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ExecRecord(nil), r.execs...)
}

// ExecsOf returns the Exec calls whose executable is name
func (r *Runtime) ExecsOf(name string) []ExecRecord {
	var out []ExecRecord
	for _, e := range r.Execs() {
		if e.Args[0] == name {
			out = append(out, e)
		}
	}
	return out
}

// Services returns every declared service in declaration order
func (r *Runtime) Services() []*Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Service(nil), r.services...)
}

// Probes returns how many readiness probes ran against a bound database
func (r *Runtime) Probes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.probes
}

func flagValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
