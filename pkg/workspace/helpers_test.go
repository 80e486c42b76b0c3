package workspace

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"dagger.io/dagger"

	"github.com/patina/pgworkspace/internal/testutil/fakert"
)

// testDaggerClient returns a Dagger client for integration tests.
// It skips the test when integration tests are not enabled or the engine
// cannot be reached.
func testDaggerClient(t *testing.T) *dagger.Client {
	t.Helper()

	if testing.Short() || os.Getenv("PGWS_INTEGRATION") == "" {
		t.Skip("set PGWS_INTEGRATION=1 to run Dagger integration tests")
	}

	client, err := dagger.Connect(context.Background(), dagger.WithLogOutput(os.Stderr))
	if err != nil {
		t.Skipf("Dagger not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return client
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testFactoryConfig is DefaultFactoryConfig with a readiness gate short
// enough for unit tests.
func testFactoryConfig() FactoryConfig {
	cfg := DefaultFactoryConfig()
	cfg.Readiness = ReadinessConfig{Interval: time.Millisecond, MaxAttempts: 5}
	return cfg
}

func mustNewTestFactory(t *testing.T, rt *fakert.Runtime) *Factory {
	t.Helper()

	f, err := NewFactory(rt, testFactoryConfig(), testLogger())
	if err != nil {
		t.Fatalf("failed to create factory: %v", err)
	}
	return f
}

func mustNewTestWorkspace(t *testing.T, rt *fakert.Runtime) *Workspace {
	t.Helper()

	ws, err := mustNewTestFactory(t, rt).Create(context.Background(), nil)
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	return ws
}

func mustNewTestManager(t *testing.T, rt *fakert.Runtime) *Manager {
	t.Helper()

	m, err := NewManager(mustNewTestFactory(t, rt), testLogger())
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}
