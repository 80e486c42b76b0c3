package workspace

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/patina/pgworkspace/pkg/runtime/daggerrt"
)

// TestDagger_EndToEnd needs a running Dagger engine and pulls real images.
func TestDagger_EndToEnd(t *testing.T) {
	client := testDaggerClient(t)

	rt, err := daggerrt.New(client, daggerrt.Options{EagerStart: true}, testLogger())
	if err != nil {
		t.Fatalf("failed to create runtime: %v", err)
	}

	cfg := DefaultFactoryConfig()
	cfg.Readiness = ReadinessConfig{Interval: time.Second, MaxAttempts: 120}
	f, err := NewFactory(rt, cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(f, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	ws, err := m.CreateWorkspace(ctx, &Config{Bootstrap: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := ws.RunCommand(ctx, []string{"true"})
	if err != nil || result.ExitCode != 0 {
		t.Fatalf("true: %v %+v", err, result)
	}

	result, err = ws.RunCommand(ctx, []string{"false"})
	if err != nil || result.ExitCode == 0 {
		t.Fatalf("false: %v %+v", err, result)
	}

	result, err = ws.RunSQL(ctx, "SELECT 1;")
	if err != nil || result.ExitCode != 0 {
		t.Fatalf("select 1: %v %+v", err, result)
	}

	result, err = ws.RunSQL(ctx, "SELECT * FROM nonexistent_table;")
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode == 0 || result.Stderr == "" {
		t.Errorf("expected a failing result, got %+v", result)
	}

	result, err = ws.RunAllThenCommand(ctx,
		[]string{"CREATE TABLE t(x int);", "INSERT INTO t VALUES (1);"},
		[]string{"sh", "-c", "echo done"},
	)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Stdout, "done") {
		t.Errorf("unexpected stdout %q", result.Stdout)
	}
}

// TestDagger_WorkspacesAreIsolated checks that two workspaces with the same
// role and schema get separate databases on a real engine.
func TestDagger_WorkspacesAreIsolated(t *testing.T) {
	client := testDaggerClient(t)

	rt, err := daggerrt.New(client, daggerrt.Options{EagerStart: true}, testLogger())
	if err != nil {
		t.Fatalf("failed to create runtime: %v", err)
	}

	cfg := DefaultFactoryConfig()
	cfg.Readiness = ReadinessConfig{Interval: time.Second, MaxAttempts: 120}
	f, err := NewFactory(rt, cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(f, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	ws1, err := m.CreateWorkspace(ctx, nil)
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	ws2, err := m.CreateWorkspace(ctx, nil)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	result, err := ws1.RunSQL(ctx, "CREATE TABLE only_in_first(x int);")
	if err != nil || result.ExitCode != 0 {
		t.Fatalf("create table: %v %+v", err, result)
	}

	result, err = ws2.RunSQL(ctx, "SELECT * FROM only_in_first;")
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode == 0 {
		t.Error("table created in the first workspace is visible in the second")
	}

	// Deleting one workspace leaves the other's database running
	if err := m.DeleteWorkspace(ctx, ws2.ID); err != nil {
		t.Fatalf("delete second: %v", err)
	}
	result, err = ws1.RunSQL(ctx, "SELECT * FROM only_in_first;")
	if err != nil || result.ExitCode != 0 {
		t.Errorf("first workspace should survive deleting the second: %v %+v", err, result)
	}
}
