// Package command runs the external programs compose-backup orchestrates
// (the container runtime and the remote sync tool).
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"
)

// Result holds the captured output of a finished command.
type Result struct {
	Stdout string
	Stderr string
}

// Runner executes an external program and waits for it to finish.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context, name string, args ...string) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) (Result, error) {
	return f(ctx, name, args...)
}

// ExitError describes a command that ran but did not succeed.
type ExitError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, e.Stderr)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExecRunner runs commands with os/exec. A zero Timeout leaves the deadline
// to the invoked tool.
type ExecRunner struct {
	Env     []string
	Timeout time.Duration
	// Stream receives the command's stderr as it is written, in addition
	// to the captured copy.
	Stream io.Writer
	Logger zerolog.Logger
}

// NewExecRunner returns an ExecRunner logging through logger.
func NewExecRunner(logger zerolog.Logger, timeout time.Duration) *ExecRunner {
	return &ExecRunner{
		Timeout: timeout,
		Logger:  logger.With().Str("component", "exec").Logger(),
	}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	line := Quote(name, args...)
	r.Logger.Debug().Str("cmd", line).Msg("running command")

	cmd := exec.CommandContext(ctx, name, args...)
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	if r.Stream != nil {
		cmd.Stderr = io.MultiWriter(&stderrBuf, r.Stream)
	}

	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", context.DeadlineExceeded, r.Timeout)
		}
		return res, &ExitError{Command: line, Stderr: strings.TrimSpace(res.Stderr), Err: err}
	}
	r.Logger.Debug().Str("cmd", line).Dur("took", time.Since(start)).Msg("command finished")
	return res, nil
}

// WithStream returns a copy of r that also writes stderr to w.
func (r *ExecRunner) WithStream(w io.Writer) *ExecRunner {
	cp := *r
	cp.Stream = w
	return &cp
}

// Quote renders a command line the way a shell user would type it.
func Quote(name string, args ...string) string {
	return shellquote.Join(append([]string{name}, args...)...)
}
