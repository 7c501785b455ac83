package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/Ning0612/rclonesync/internal/domain"
	"github.com/Ning0612/rclonesync/internal/logger"
)

// Runner invokes the sync engine with an argument vector
type Runner interface {
	Run(ctx context.Context, args []string, opts ...Option) error
}

// RunOptions configures one engine invocation
type RunOptions struct {
	Stdout io.Writer
	Stderr io.Writer
	// Env is appended to the current process environment
	Env map[string]string
}

// Option modifies RunOptions
type Option func(*RunOptions)

// WithStdout sends engine standard output to w
func WithStdout(w io.Writer) Option {
	return func(o *RunOptions) {
		o.Stdout = w
	}
}

// WithStderr sends engine standard error to w
func WithStderr(w io.Writer) Option {
	return func(o *RunOptions) {
		o.Stderr = w
	}
}

// WithEnv adds an environment variable for the engine process
func WithEnv(key, value string) Option {
	return func(o *RunOptions) {
		if o.Env == nil {
			o.Env = make(map[string]string)
		}
		o.Env[key] = value
	}
}

// ApplyOptions returns the defaults with opts applied. Output that is not
// redirected is discarded.
func ApplyOptions(opts ...Option) *RunOptions {
	o := &RunOptions{
		Stdout: io.Discard,
		Stderr: io.Discard,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ExitError reports a non-zero engine exit
type ExitError struct {
	Args []string
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	sub := ""
	if len(e.Args) > 0 {
		sub = e.Args[0]
	}
	return fmt.Sprintf("engine %s exited with code %d: %v", sub, e.Code, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an ExitError against domain.ErrEngineFailed
func (e *ExitError) Is(target error) bool {
	return target == domain.ErrEngineFailed
}

// ExitCode extracts the engine exit code from err: 0 for nil, the
// recorded code for an ExitError and 1 for anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}
	return 1
}

// ExecRunner runs the engine binary as a child process
type ExecRunner struct {
	Binary string
}

// NewExecRunner creates a runner for the given engine binary
func NewExecRunner(binary string) *ExecRunner {
	if binary == "" {
		binary = "rclone"
	}
	return &ExecRunner{Binary: binary}
}

// Run starts the engine, waits for it and maps its outcome to an error.
// A process that could not be started reports exit code 1.
func (r *ExecRunner) Run(ctx context.Context, args []string, opts ...Option) error {
	o := ApplyOptions(opts...)

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Stdout = o.Stdout
	cmd.Stderr = o.Stderr
	if len(o.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range o.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	logger.Get().Debug("starting engine", "binary", r.Binary, "args", args)

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code <= 0 {
			// Killed by a signal
			code = 1
		}
		return &ExitError{Args: args, Code: code, Err: err}
	}
	return &ExitError{Args: args, Code: 1, Err: fmt.Errorf("failed to start %s: %w", r.Binary, err)}
}
