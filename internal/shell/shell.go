// Package shell executes external commands for pipeline stages. Stages
// depend on the Runner interface so tests can substitute a scripted fake.
package shell

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/vk/pipegrid/internal/ctxlog"
)

// Result is the captured outcome of one command invocation.
type Result struct {
	// Output is the combined stdout and stderr of the command.
	Output string
	// ExitCode is the command's exit status. Zero on success.
	ExitCode int
}

// Options controls where and how a command runs.
type Options struct {
	// Dir is the working directory. Empty means the process default.
	Dir string
	// Env is appended to the parent environment for the command.
	Env []string
	// Timeout bounds the command's runtime. Zero means no extra bound
	// beyond the context.
	Timeout time.Duration
}

// Runner executes a shell command and returns its captured result. A
// non-zero exit produces a Result with the exit code and a nil error;
// errors are reserved for failures to start or context cancellation.
type Runner interface {
	Run(ctx context.Context, opts Options, command string) (Result, error)
}

// Local runs commands on the local host via `sh -c`.
type Local struct{}

// Run executes command under `sh -c`, capturing combined output.
func (Local) Run(ctx context.Context, opts Options, command string) (Result, error) {
	logger := ctxlog.FromContext(ctx)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	logger.Debug("Running command.", "command", command, "dir", opts.Dir)
	err := cmd.Run()
	result := Result{Output: out.String()}

	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// The command ran and exited non-zero; the caller decides what the
		// exit code means.
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.ExitCode = exitErr.ExitCode()
		logger.Debug("Command exited non-zero.", "command", command, "code", result.ExitCode)
		return result, nil
	}

	return result, err
}
