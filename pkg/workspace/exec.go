package workspace

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/patina/pgworkspace/pkg/runtime"
)

// ExecPolicy controls how SQL scripts are applied
type ExecPolicy struct {
	// StopOnFirstFailure makes RunAllThenCommand return the first failing
	// script's result instead of carrying on to the next script.
	StopOnFirstFailure bool `json:"stop_on_first_failure" yaml:"stop_on_first_failure"`

	// PsqlArgs are extra arguments for every psql invocation.
	PsqlArgs []string `json:"psql_args,omitempty" yaml:"psql_args"`
}

// DefaultExecPolicy continues past failing scripts and makes psql exit
// non-zero when a statement fails.
func DefaultExecPolicy() ExecPolicy {
	return ExecPolicy{
		StopOnFirstFailure: false,
		PsqlArgs:           []string{"-v", "ON_ERROR_STOP=1"},
	}
}

// ExecResult contains the result of command execution
type ExecResult struct {
	ExitCode  int       `json:"exit_code"`
	Stdout    string    `json:"stdout"`
	Stderr    string    `json:"stderr"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  string    `json:"duration"`
}

// Succeeded reports a zero exit code
func (r *ExecResult) Succeeded() bool {
	return r.ExitCode == 0
}

func newExecResult(out *runtime.ExecOutput, start time.Time) *ExecResult {
	end := time.Now()
	return &ExecResult{
		ExitCode:  out.ExitCode,
		Stdout:    out.Stdout,
		Stderr:    out.Stderr,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start).String(),
	}
}

// RunCommand waits for the database, then runs command in the control
// container. command[0] is the executable; there is no shell unless the
// command invokes one. A non-zero exit is returned as data.
func (w *Workspace) RunCommand(ctx context.Context, command []string) (*ExecResult, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: command is required", ErrInvalidConfig)
	}

	start := time.Now()
	ctr, err := w.awaitDatabase(ctx, w.Control)
	if err != nil {
		return nil, err
	}

	return w.execute(ctx, ctr, command, start)
}

// RunSQL writes contents to a script file unique to this call, waits for
// the database and runs the script with psql as the superuser.
func (w *Workspace) RunSQL(ctx context.Context, contents string) (*ExecResult, error) {
	start := time.Now()
	script := w.scriptPath()

	ctr := w.rt.WriteFile(w.Control, script, contents)
	ctr = w.rt.BindService(ctr, w.creds.Host, w.Database)
	ctr = w.rt.WithEnv(ctr, "PGPASSWORD", w.creds.Password)

	ctr, err := w.awaitDatabase(ctx, ctr)
	if err != nil {
		return nil, err
	}

	return w.execute(ctx, ctr, w.psqlCommand(script), start)
}

// RunAllThenCommand waits for the database once, applies scripts strictly
// in order and then runs command, returning only the command's result.
//
// A failing script does not stop the sequence unless the policy sets
// StopOnFirstFailure, in which case that script's result is returned and
// neither the remaining scripts nor the command run.
func (w *Workspace) RunAllThenCommand(ctx context.Context, scripts []string, command []string) (*ExecResult, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: command is required", ErrInvalidConfig)
	}

	start := time.Now()
	ctr, err := w.awaitDatabase(ctx, w.Control)
	if err != nil {
		return nil, err
	}

	for i, contents := range scripts {
		scriptStart := time.Now()
		script := w.scriptPath()
		ctr = w.rt.WriteFile(ctr, script, contents)

		next, out, err := w.rt.Exec(ctx, ctr, w.psqlCommand(script))
		if err != nil {
			w.logger.Error("failed to apply script", "index", i, "error", err)
			return nil, fmt.Errorf("%w: script %d: %v", ErrExecFailed, i, err)
		}

		if out.ExitCode != 0 {
			w.logger.Warn("script failed",
				"index", i,
				"exit_code", out.ExitCode,
				"stop", w.policy.StopOnFirstFailure,
			)
			if w.policy.StopOnFirstFailure {
				return newExecResult(out, scriptStart), nil
			}
		}
		ctr = next
	}

	return w.execute(ctx, ctr, command, start)
}

func (w *Workspace) awaitDatabase(ctx context.Context, ctr runtime.Container) (runtime.Container, error) {
	ready, attempts, err := w.gate.wait(ctx, ctr)
	if err != nil {
		w.logger.Error("database not ready", "attempts", attempts, "error", err)
		return nil, err
	}
	if attempts > 1 {
		w.logger.Info("database ready", "attempts", attempts)
	}
	return ready, nil
}

func (w *Workspace) execute(ctx context.Context, ctr runtime.Container, command []string, start time.Time) (*ExecResult, error) {
	w.logger.Info("executing command", "command", strings.Join(command, " "))

	_, out, err := w.rt.Exec(ctx, ctr, command)
	if err != nil {
		w.logger.Error("failed to execute command", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrExecFailed, err)
	}

	result := newExecResult(out, start)
	w.logger.Info("command executed",
		"exit_code", result.ExitCode,
		"duration", result.Duration,
	)
	return result, nil
}

func (w *Workspace) psqlCommand(script string) []string {
	args := []string{
		"psql",
		"-h", w.creds.Host,
		"-U", w.creds.User,
		"-d", w.creds.Database,
	}
	args = append(args, w.policy.PsqlArgs...)
	return append(args, "-f", script)
}

// scriptPath returns a fresh script location so concurrent calls never
// overwrite each other's file.
func (w *Workspace) scriptPath() string {
	return path.Join(scriptDir, "script-"+uuid.NewString()+".sql")
}

const scriptDir = "/tmp/pgworkspace"
