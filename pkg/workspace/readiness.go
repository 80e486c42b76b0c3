package workspace

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/patina/pgworkspace/pkg/runtime"
)

// probeNonceEnv changes on every probe so engines that cache exec steps
// never replay an earlier probe result.
const probeNonceEnv = "PGWS_READINESS_PROBE"

// ReadinessConfig bounds the readiness gate
type ReadinessConfig struct {
	// Interval is the pause between probes
	Interval time.Duration `json:"interval" yaml:"interval"`
	// MaxAttempts caps the number of probes. Zero waits until ctx is done.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
}

// DefaultReadinessConfig probes once a second for up to a minute
func DefaultReadinessConfig() ReadinessConfig {
	return ReadinessConfig{
		Interval:    time.Second,
		MaxAttempts: 60,
	}
}

var errNotReady = errors.New("database not accepting connections")

type readinessGate struct {
	rt    runtime.ContainerRuntime
	probe []string
	cfg   ReadinessConfig
}

func newReadinessGate(rt runtime.ContainerRuntime, creds Credentials, cfg ReadinessConfig) *readinessGate {
	return &readinessGate{
		rt: rt,
		probe: []string{
			"pg_isready",
			"-h", creds.Host,
			"-p", strconv.Itoa(creds.Port),
			"-U", creds.User,
		},
		cfg: cfg,
	}
}

// wait blocks until the database accepts connections and returns ctr
// extended with the successful probe, so the next step runs after it.
// The probe nonce is unset again before ctr is handed back.
func (g *readinessGate) wait(ctx context.Context, ctr runtime.Container) (runtime.Container, int, error) {
	var b backoff.BackOff = backoff.NewConstantBackOff(g.cfg.Interval)
	if g.cfg.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(g.cfg.MaxAttempts-1))
	}
	b = backoff.WithContext(b, ctx)

	attempts := 0
	var ready runtime.Container
	op := func() error {
		attempts++
		probe := g.rt.WithEnv(ctr, probeNonceEnv, uuid.NewString())
		next, out, err := g.rt.Exec(ctx, probe, g.probe)
		if err != nil {
			return backoff.Permanent(err)
		}
		if out.ExitCode != 0 {
			return errNotReady
		}
		ready = g.rt.WithoutEnv(next, probeNonceEnv)
		return nil
	}

	if err := backoff.Retry(op, b); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempts, ctxErr
		}
		if errors.Is(err, errNotReady) {
			return nil, attempts, &ReadinessError{Attempts: attempts, Interval: g.cfg.Interval}
		}
		return nil, attempts, fmt.Errorf("%w: readiness probe: %v", ErrExecFailed, err)
	}

	return ready, attempts, nil
}
