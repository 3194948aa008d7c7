// Package shell runs external helper commands and captures their outcome.
package shell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/primectl/primed/lib/logger"
)

// Result is the outcome of one command invocation. Status is the process
// exit code, or -1 when the command could not be spawned at all (missing
// binary, permission error, timeout kill). Spawn failures are recorded in
// Stderr; Run never returns a Go error.
type Result struct {
	Status  int
	Command string
	Stdout  string
	Stderr  string
}

// Ok reports whether the command ran and exited zero.
func (r Result) Ok() bool {
	return r.Status == 0
}

// Runner executes commands synchronously or in the background.
type Runner interface {
	// Run executes argv and blocks until it exits or the runner timeout
	// elapses. All failure modes are folded into the Result.
	Run(ctx context.Context, argv ...string) Result

	// Start executes argv in the background. Exactly one Result is
	// delivered on the returned channel, including when spawning fails.
	// A started command cannot be canceled.
	Start(ctx context.Context, argv ...string) <-chan Result
}

type runner struct {
	timeout time.Duration
}

// NewRunner creates a runner. A non-zero timeout bounds every invocation;
// zero means commands may block indefinitely.
func NewRunner(timeout time.Duration) Runner {
	return &runner{timeout: timeout}
}

func (r *runner) Run(ctx context.Context, argv ...string) Result {
	cmdline := strings.Join(argv, " ")
	if len(argv) == 0 {
		return Result{Status: -1, Command: cmdline, Stderr: "empty command"}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Command: cmdline,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}

	switch {
	case err == nil:
		res.Status = 0
	case isExitError(err):
		res.Status = cmd.ProcessState.ExitCode()
		if ctx.Err() != nil {
			// Killed by the deadline, not a real helper exit.
			res.Status = -1
			res.Stderr = appendLine(res.Stderr, "command timed out: "+cmdline)
		}
	default:
		// Spawn never happened (binary missing, not executable, ...).
		res.Status = -1
		res.Stderr = appendLine(res.Stderr, err.Error())
	}

	return res
}

func (r *runner) Start(ctx context.Context, argv ...string) <-chan Result {
	// Buffered so the single delivery never blocks an abandoned caller.
	done := make(chan Result, 1)

	go func() {
		res := r.Run(ctx, argv...)
		log := logger.FromContext(ctx)
		if !res.Ok() {
			log.WarnContext(ctx, "background command failed",
				"command", res.Command,
				"status", res.Status,
				"stderr", strings.TrimSpace(res.Stderr),
			)
		}
		done <- res
	}()

	return done
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func appendLine(existing, line string) string {
	if existing == "" {
		return line
	}
	if !strings.HasSuffix(existing, "\n") {
		existing += "\n"
	}
	return existing + line
}
