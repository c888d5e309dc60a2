// Package toolchain runs external build tools (git, forge, npm, npx, yarn).
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/pendergraft/deployproof/internal/chains"
)

// Result holds the captured output of a finished command.
type Result struct {
	Stdout []byte
	Stderr []byte
}

// Runner executes commands in a working directory.
type Runner interface {
	// Run executes name with args in dir. A non-zero exit returns an
	// *ExitError together with the captured output.
	Run(ctx context.Context, dir, name string, args ...string) (*Result, error)
	// LookPath reports whether name is available. Missing tools wrap
	// chains.ErrDependencyMissing.
	LookPath(name string) error
}

// ExitError reports a command that ran but exited unsuccessfully.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates a runner that logs each invocation at debug level.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger.With("component", "toolchain")}
}

// LookPath checks that name is on PATH.
func (r *ExecRunner) LookPath(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%w: %s not found on PATH", chains.ErrDependencyMissing, name)
	}
	return nil
}

// Run executes the command and captures stdout and stderr separately.
func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (*Result, error) {
	start := time.Now()
	command := strings.TrimSpace(name + " " + strings.Join(args, " "))
	r.logger.Debug("running command", "command", command, "dir", dir)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	duration := time.Since(start)

	if err == nil {
		r.logger.Debug("command completed", "command", command, "duration", duration)
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if errors.Is(err, exec.ErrNotFound) {
		return res, fmt.Errorf("%w: %s not found on PATH", chains.ErrDependencyMissing, name)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		r.logger.Debug("command failed", "command", command, "exit_code", exitErr.ExitCode(), "duration", duration)
		return res, &ExitError{
			Command:  command,
			ExitCode: exitErr.ExitCode(),
			Stderr:   lastLines(stderr.String(), 20),
		}
	}
	return res, fmt.Errorf("running %s: %w", command, err)
}

// lastLines keeps the tail of long tool output for error messages.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
