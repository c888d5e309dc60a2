package toolchain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/deployproof/internal/chains"
)

func newTestRunner() *ExecRunner {
	return NewExecRunner(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunner_Run(t *testing.T) {
	requireShell(t)
	r := newTestRunner()
	dir := t.TempDir()

	res, err := r.Run(context.Background(), dir, "sh", "-c", "pwd; echo oops >&2")
	require.NoError(t, err)
	assert.Contains(t, string(res.Stdout), dir)
	assert.Equal(t, "oops\n", string(res.Stderr))
}

func TestExecRunner_ExitError(t *testing.T) {
	requireShell(t)
	r := newTestRunner()

	res, err := r.Run(context.Background(), t.TempDir(), "sh", "-c", "echo partial; echo boom >&2; exit 3")
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Equal(t, "boom", exitErr.Stderr)
	assert.Contains(t, err.Error(), "exited with status 3")
	assert.Equal(t, "partial\n", string(res.Stdout))
}

func TestExecRunner_MissingBinary(t *testing.T) {
	r := newTestRunner()

	_, err := r.Run(context.Background(), t.TempDir(), "deployproof-no-such-tool")
	assert.True(t, errors.Is(err, chains.ErrDependencyMissing))

	err = r.LookPath("deployproof-no-such-tool")
	assert.True(t, errors.Is(err, chains.ErrDependencyMissing))
}

func TestExecRunner_Cancelled(t *testing.T) {
	requireShell(t)
	r := newTestRunner()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, t.TempDir(), "sh", "-c", "sleep 5")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLastLines(t *testing.T) {
	assert.Equal(t, "c\nd", lastLines("a\nb\nc\nd\n", 2))
	assert.Equal(t, "a", lastLines("a", 5))
}
