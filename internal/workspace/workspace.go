// Package workspace prepares the source tree a contract is compiled from:
// a fresh clone at the claimed revision with its dependencies installed, or
// a local directory used as is.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pendergraft/deployproof/internal/chains"
	"github.com/pendergraft/deployproof/internal/toolchain"
)

// Source describes where the code comes from. Exactly one of Repository
// and Dir is set.
type Source struct {
	Repository string
	Revision   string
	Dir        string
	// Name is used to label the temporary directory.
	Name string
}

// Workspace is a prepared source tree.
type Workspace struct {
	Dir string
	// ResolvedRevision is the commit checked out, when known.
	ResolvedRevision string

	owned  bool
	keep   bool
	logger *slog.Logger
}

// Close removes a cloned workspace unless it is kept. Local directories are
// never removed.
func (w *Workspace) Close() error {
	if w == nil || !w.owned {
		return nil
	}
	if w.keep {
		w.logger.Info("keeping workspace", "dir", w.Dir)
		return nil
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("removing workspace: %w", err)
	}
	w.logger.Debug("removed workspace", "dir", w.Dir)
	return nil
}

// Config holds workspace settings.
type Config struct {
	// BaseDir is where temporary workspaces are created; empty uses os.TempDir.
	BaseDir string
	// Keep leaves cloned workspaces on disk for inspection.
	Keep bool
}

// Manager clones repositories and installs their dependencies.
type Manager struct {
	runner toolchain.Runner
	cfg    Config
	logger *slog.Logger
}

// NewManager creates a workspace manager.
func NewManager(runner toolchain.Runner, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{runner: runner, cfg: cfg, logger: logger.With("component", "workspace")}
}

// Prepare returns a workspace ready for compilation. Dependency
// installation completes before Prepare returns. Failures wrap
// chains.ErrDependencyMissing or chains.ErrBuildFailure; cancellation
// returns the context error.
func (m *Manager) Prepare(ctx context.Context, src Source) (*Workspace, error) {
	if src.Dir != "" {
		return m.local(ctx, src.Dir)
	}
	if src.Repository == "" {
		return nil, fmt.Errorf("%w: no repository or source directory given", chains.ErrBuildFailure)
	}
	if err := m.runner.LookPath("git"); err != nil {
		return nil, err
	}

	if m.cfg.BaseDir != "" {
		if err := os.MkdirAll(m.cfg.BaseDir, 0755); err != nil {
			return nil, fmt.Errorf("creating work directory: %w", err)
		}
	}
	dir, err := os.MkdirTemp(m.cfg.BaseDir, "deployproof-"+sanitize(src.Name)+"-")
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	ws := &Workspace{Dir: dir, owned: true, keep: m.cfg.Keep, logger: m.logger}

	if err := m.populate(ctx, ws, src); err != nil {
		if closeErr := ws.Close(); closeErr != nil {
			m.logger.Warn("failed to clean up workspace", "dir", dir, "error", closeErr)
		}
		return nil, err
	}
	return ws, nil
}

func (m *Manager) populate(ctx context.Context, ws *Workspace, src Source) error {
	m.logger.Info("cloning repository", "repository", src.Repository, "revision", src.Revision, "dir", ws.Dir)
	if _, err := m.runner.Run(ctx, ws.Dir, "git", "clone", "--quiet", "--", src.Repository, "."); err != nil {
		return stepError(err, "cloning %s", src.Repository)
	}
	if src.Revision != "" {
		if _, err := m.runner.Run(ctx, ws.Dir, "git", "-c", "advice.detachedHead=false", "checkout", "--quiet", src.Revision, "--"); err != nil {
			return stepError(err, "checking out %s", src.Revision)
		}
	}
	if _, err := m.runner.Run(ctx, ws.Dir, "git", "submodule", "update", "--init", "--recursive"); err != nil {
		return stepError(err, "updating submodules")
	}
	ws.ResolvedRevision = m.head(ctx, ws.Dir)

	return m.installDependencies(ctx, ws.Dir)
}

// local wraps an existing directory without cloning or installing anything.
func (m *Manager) local(ctx context.Context, dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %v", chains.ErrBuildFailure, dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: source directory: %v", chains.ErrBuildFailure, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", chains.ErrBuildFailure, abs)
	}

	ws := &Workspace{Dir: abs, logger: m.logger}
	if m.runner.LookPath("git") == nil {
		ws.ResolvedRevision = m.head(ctx, abs)
	}
	return ws, nil
}

// installDependencies runs the package managers the project needs.
func (m *Manager) installDependencies(ctx context.Context, dir string) error {
	if exists(filepath.Join(dir, "package.json")) {
		manager, err := m.nodePackageManager()
		if err != nil {
			return err
		}
		m.logger.Info("installing node dependencies", "manager", manager)
		if _, err := m.runner.Run(ctx, dir, manager, "install"); err != nil {
			return stepError(err, "%s install", manager)
		}
	}

	if exists(filepath.Join(dir, "foundry.toml")) {
		if err := m.runner.LookPath("forge"); err != nil {
			return err
		}
		m.logger.Info("installing foundry dependencies")
		if _, err := m.runner.Run(ctx, dir, "forge", "install"); err != nil {
			return stepError(err, "forge install")
		}
	}
	return nil
}

// nodePackageManager prefers yarn and falls back to npm.
func (m *Manager) nodePackageManager() (string, error) {
	if m.runner.LookPath("yarn") == nil {
		return "yarn", nil
	}
	if m.runner.LookPath("npm") == nil {
		return "npm", nil
	}
	return "", fmt.Errorf("%w: package.json present but neither yarn nor npm is installed", chains.ErrDependencyMissing)
}

func (m *Manager) head(ctx context.Context, dir string) string {
	res, err := m.runner.Run(ctx, dir, "git", "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(res.Stdout))
}

// stepError classifies a failed command: a tool that ran and failed means
// the source could not be prepared.
func stepError(err error, format string, args ...any) error {
	var exitErr *toolchain.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: %s: %w", chains.ErrBuildFailure, fmt.Sprintf(format, args...), err)
	}
	return err
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func sanitize(name string) string {
	if name == "" {
		return "src"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == os.PathSeparator || r == '*' {
			return '_'
		}
		return r
	}, name)
}
