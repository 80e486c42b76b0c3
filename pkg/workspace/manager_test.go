package workspace

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/patina/pgworkspace/internal/testutil/fakert"
	"github.com/patina/pgworkspace/pkg/runtime"
)

func TestNewManager(t *testing.T) {
	if _, err := NewManager(nil, nil); !errors.Is(err, ErrNoRuntime) {
		t.Errorf("expected ErrNoRuntime, got %v", err)
	}

	m := mustNewTestManager(t, fakert.New())
	list, err := m.ListWorkspaces()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("expected no workspaces, got %d", len(list))
	}
}

func TestManager_Lifecycle(t *testing.T) {
	rt := fakert.New()
	m := mustNewTestManager(t, rt)
	ctx := context.Background()

	ws, err := m.CreateWorkspace(ctx, &Config{Name: "first"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ws.Name != "first" {
		t.Errorf("expected name first, got %s", ws.Name)
	}

	second, err := m.CreateWorkspace(ctx, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := m.GetWorkspace(ws.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != ws {
		t.Error("get should return the registered workspace")
	}

	list, _ := m.ListWorkspaces()
	if len(list) != 2 || list[0].ID != ws.ID || list[1].ID != second.ID {
		t.Errorf("list should keep creation order: %v", list)
	}

	if err := m.DeleteWorkspace(ctx, ws.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !ws.Database.(*fakert.Service).Stopped() || !ws.Gateway.(*fakert.Service).Stopped() {
		t.Error("delete should stop both services")
	}
	if ws.Status() != StatusDeleting {
		t.Errorf("expected status %s, got %s", StatusDeleting, ws.Status())
	}
	if _, err := m.GetWorkspace(ws.ID); !IsNotFound(err) {
		t.Errorf("expected ErrWorkspaceNotFound after delete, got %v", err)
	}
	if err := m.DeleteWorkspace(ctx, ws.ID); !IsNotFound(err) {
		t.Errorf("expected ErrWorkspaceNotFound on second delete, got %v", err)
	}
}

func TestManager_NotFound(t *testing.T) {
	m := mustNewTestManager(t, fakert.New())
	ctx := context.Background()

	if _, err := m.GetWorkspace(""); !IsNotFound(err) {
		t.Errorf("expected ErrWorkspaceNotFound for empty ID, got %v", err)
	}
	if _, err := m.Execute(ctx, "ws-missing", &ExecOptions{Command: []string{"true"}}); !IsNotFound(err) {
		t.Errorf("expected ErrWorkspaceNotFound, got %v", err)
	}
	if _, err := m.ExecuteSQL(ctx, "ws-missing", &SQLOptions{SQL: "SELECT 1;"}); !IsNotFound(err) {
		t.Errorf("expected ErrWorkspaceNotFound, got %v", err)
	}
	if _, err := m.Apply(ctx, "ws-missing", &ApplyOptions{Command: []string{"true"}}); !IsNotFound(err) {
		t.Errorf("expected ErrWorkspaceNotFound, got %v", err)
	}
}

func TestManager_InvalidOptions(t *testing.T) {
	m := mustNewTestManager(t, fakert.New())
	ctx := context.Background()
	ws, err := m.CreateWorkspace(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"nil exec", func() error { _, err := m.Execute(ctx, ws.ID, nil); return err }},
		{"empty exec", func() error { _, err := m.Execute(ctx, ws.ID, &ExecOptions{}); return err }},
		{"nil sql", func() error { _, err := m.ExecuteSQL(ctx, ws.ID, nil); return err }},
		{"nil apply", func() error { _, err := m.Apply(ctx, ws.ID, nil); return err }},
		{"apply without command", func() error {
			_, err := m.Apply(ctx, ws.ID, &ApplyOptions{Scripts: []string{"SELECT 1;"}})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !IsInvalid(err) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestManager_Execute(t *testing.T) {
	m := mustNewTestManager(t, fakert.New())
	ctx := context.Background()
	ws, err := m.CreateWorkspace(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}

	result, err := m.Execute(ctx, ws.ID, &ExecOptions{Command: []string{"echo", "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stdout != "hi\n" {
		t.Errorf("unexpected stdout %q", result.Stdout)
	}

	result, err = m.ExecuteSQL(ctx, ws.ID, &SQLOptions{SQL: "SELECT * FROM nonexistent_table;"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Succeeded() || result.Stderr == "" {
		t.Errorf("expected a failing result with stderr, got %+v", result)
	}
}

func TestManager_ExecuteTimeout(t *testing.T) {
	rt := fakert.New()
	rt.Unreachable = true

	cfg := testFactoryConfig()
	cfg.Readiness = ReadinessConfig{Interval: 5 * time.Millisecond, MaxAttempts: 0}
	f, err := NewFactory(rt, cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(f, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close(context.Background())

	ws, err := m.CreateWorkspace(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = m.Execute(context.Background(), ws.ID, &ExecOptions{
		Command: []string{"true"},
		Timeout: 30 * time.Millisecond,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestManager_ApplyOverridesPolicy(t *testing.T) {
	rt := fakert.New()
	m := mustNewTestManager(t, rt)
	ctx := context.Background()
	ws, err := m.CreateWorkspace(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}

	stop := true
	result, err := m.Apply(ctx, ws.ID, &ApplyOptions{
		Scripts:            []string{"INSERT INTO missing VALUES (1);", "CREATE TABLE never(x int);"},
		Command:            []string{"sh", "-c", "echo done"},
		StopOnFirstFailure: &stop,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Succeeded() || strings.Contains(result.Stdout, "done") {
		t.Errorf("expected the failing script's result, got %+v", result)
	}
	if ws.Database.(*fakert.Service).Database().HasTable("never") {
		t.Error("later scripts should not run")
	}
	if ws.Policy().StopOnFirstFailure {
		t.Error("override should not change the registered workspace")
	}

	// Without an override the workspace default continues past failures
	result, err = m.Apply(ctx, ws.ID, &ApplyOptions{
		Scripts: []string{"INSERT INTO missing VALUES (1);", "CREATE TABLE later(x int);"},
		Command: []string{"sh", "-c", "echo done"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Stdout, "done") {
		t.Errorf("expected the command result, got %+v", result)
	}
	if !ws.Database.(*fakert.Service).Database().HasTable("later") {
		t.Error("scripts after a failure should run by default")
	}
}

func TestManager_Close(t *testing.T) {
	rt := fakert.New()
	f := mustNewTestFactory(t, rt)
	m, err := NewManager(f, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := m.CreateWorkspace(ctx, nil); err != nil {
			t.Fatal(err)
		}
	}

	if err := m.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, svc := range rt.Services() {
		if !svc.Stopped() {
			t.Errorf("service %s still running after close", svc.Image())
		}
	}

	if _, err := m.CreateWorkspace(ctx, nil); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("expected ErrManagerClosed, got %v", err)
	}
	if _, err := m.Execute(ctx, "ws-any", &ExecOptions{Command: []string{"true"}}); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("expected ErrManagerClosed, got %v", err)
	}

	// Idempotent
	if err := m.Close(ctx); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestManager_CreateFailure(t *testing.T) {
	rt := fakert.New()
	rt.FailImages["postgrest/postgrest:v12.2.3"] = errors.New("manifest unknown")
	m := mustNewTestManager(t, rt)

	if _, err := m.CreateWorkspace(context.Background(), nil); !errors.Is(err, ErrContainerFailed) {
		t.Errorf("expected ErrContainerFailed, got %v", err)
	}
	if list, _ := m.ListWorkspaces(); len(list) != 0 {
		t.Error("failed workspace should not be registered")
	}
}

// blockingRuntime holds every StartService call until release is closed
type blockingRuntime struct {
	*fakert.Runtime
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingRuntime() *blockingRuntime {
	return &blockingRuntime{
		Runtime: fakert.New(),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (r *blockingRuntime) StartService(ctx context.Context, spec runtime.ServiceSpec) (runtime.Service, error) {
	r.once.Do(func() { close(r.started) })
	<-r.release
	return r.Runtime.StartService(ctx, spec)
}

func TestManager_CloseDuringCreate(t *testing.T) {
	rt := newBlockingRuntime()
	f, err := NewFactory(rt, testFactoryConfig(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(f, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := m.CreateWorkspace(ctx, nil)
		errc <- err
	}()

	<-rt.started
	if err := m.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	close(rt.release)

	if err := <-errc; !errors.Is(err, ErrManagerClosed) {
		t.Errorf("expected ErrManagerClosed, got %v", err)
	}
	if list, _ := m.ListWorkspaces(); len(list) != 0 {
		t.Errorf("workspace created after close should not be registered, got %d", len(list))
	}

	services := rt.Services()
	if len(services) != 2 {
		t.Fatalf("expected 2 services, got %d", len(services))
	}
	for _, svc := range services {
		if !svc.Stopped() {
			t.Errorf("service %s still running after close", svc.Image())
		}
	}
}

func TestManager_RejectsWorkspacesNotReady(t *testing.T) {
	tests := []struct {
		name   string
		status Status
	}{
		{"deleting", StatusDeleting},
		{"error", StatusError},
		{"creating", StatusCreating},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := fakert.New()
			m := mustNewTestManager(t, rt)
			ctx := context.Background()

			ws, err := m.CreateWorkspace(ctx, nil)
			if err != nil {
				t.Fatal(err)
			}
			ws.setStatus(tt.status)

			if _, err := m.Execute(ctx, ws.ID, &ExecOptions{Command: []string{"true"}}); !IsNotReady(err) {
				t.Errorf("Execute: expected ErrWorkspaceNotReady, got %v", err)
			}
			if _, err := m.ExecuteSQL(ctx, ws.ID, &SQLOptions{SQL: "SELECT 1;"}); !IsNotReady(err) {
				t.Errorf("ExecuteSQL: expected ErrWorkspaceNotReady, got %v", err)
			}
			if _, err := m.Apply(ctx, ws.ID, &ApplyOptions{Command: []string{"true"}}); !IsNotReady(err) {
				t.Errorf("Apply: expected ErrWorkspaceNotReady, got %v", err)
			}
			if len(rt.Execs()) != 0 {
				t.Errorf("nothing should run, got %d execs", len(rt.Execs()))
			}
		})
	}
}

func TestManager_ConcurrentApplyAndStatusChange(t *testing.T) {
	rt := fakert.New()
	m := mustNewTestManager(t, rt)
	ctx := context.Background()

	ws, err := m.CreateWorkspace(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}

	stop := true
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			// The workspace may already be marked for deletion
			m.Apply(ctx, ws.ID, &ApplyOptions{Command: []string{"true"}, StopOnFirstFailure: &stop})
			ws.LastUpdated()
		}()
		go func() {
			defer wg.Done()
			ws.setStatus(StatusReady)
		}()
	}
	wg.Wait()

	ws.setStatus(StatusDeleting)
	view := ws.WithPolicy(ws.Policy())
	if view.Status() != StatusDeleting || !view.LastUpdated().Equal(ws.LastUpdated()) {
		t.Error("policy view should copy status and timestamp")
	}
}
