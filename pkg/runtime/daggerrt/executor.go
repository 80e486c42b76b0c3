package daggerrt

import (
	"context"
	"fmt"

	"dagger.io/dagger"

	"github.com/patina/pgworkspace/pkg/runtime"
)

// Exec runs args in ctr and returns the derived container with its output.
// A non-zero exit is reported in the output, not as an error.
func (r *Runtime) Exec(ctx context.Context, ctr runtime.Container, args []string) (runtime.Container, *runtime.ExecOutput, error) {
	if len(args) == 0 {
		return nil, nil, fmt.Errorf("command is required")
	}

	c := mustContainer(ctr)

	execContainer := c.ctr.WithExec(args, dagger.ContainerWithExecOpts{
		Expect: dagger.ReturnTypeAny,
	})

	exitCode, err := execContainer.ExitCode(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("exec %q: %w", args[0], err)
	}

	stdout, err := execContainer.Stdout(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read stdout: %w", err)
	}

	stderr, err := execContainer.Stderr(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read stderr: %w", err)
	}

	r.logger.Debug("exec finished", "command", args[0], "exit_code", exitCode)

	return &container{ctr: execContainer, image: c.image}, &runtime.ExecOutput{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}, nil
}
