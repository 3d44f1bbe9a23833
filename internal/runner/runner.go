// Package runner is the subprocess seam for gate checks. The evaluator
// receives a Runner and never spawns processes through any other path.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// killGracePeriod bounds how long a timed-out process may linger after the
// deadline before it is force-terminated.
const killGracePeriod = 5 * time.Second

// Result carries everything the evaluator needs from one command run.
// A non-zero exit code and a timeout are normal outcomes, not errors.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Runner executes an external command with a bounded timeout.
type Runner interface {
	Run(ctx context.Context, command string, timeout time.Duration) (Result, error)
}

// Func adapts a function to the Runner interface.
type Func func(ctx context.Context, command string, timeout time.Duration) (Result, error)

// Run implements Runner.
func (f Func) Run(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	return f(ctx, command, timeout)
}

// ExecRunner runs commands through the local shell.
type ExecRunner struct {
	// Dir is the working directory for every command. Empty means the
	// current process directory.
	Dir string
}

// New creates an ExecRunner rooted at dir.
func New(dir string) *ExecRunner {
	return &ExecRunner{Dir: dir}
}

// Run executes command under "sh -c", racing it against timeout. On expiry
// the process is killed and the result reports TimedOut; the caller decides
// what a timeout means. A timeout of zero runs without a deadline.
func (r *ExecRunner) Run(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	if strings.TrimSpace(command) == "" {
		return Result{}, errors.New("command is empty")
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = r.Dir
	cmd.WaitDelay = killGracePeriod

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			res.TimedOut = true
			res.ExitCode = -1
			return res, nil
		case errors.Is(ctx.Err(), context.Canceled):
			return res, ctx.Err()
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		default:
			return res, fmt.Errorf("failed to run command: %w", err)
		}
	}

	return res, nil
}
