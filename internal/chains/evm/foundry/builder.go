// Package foundry provides the Foundry builder for EVM contracts.
package foundry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pendergraft/deployproof/internal/chains"
	"github.com/pendergraft/deployproof/internal/chains/evm"
	"github.com/pendergraft/deployproof/internal/toolchain"
	"github.com/pendergraft/deployproof/internal/validation"
)

var versionRegex = regexp.MustCompile(`\b(\d+\.\d+\.\d+)\b`)

// Builder implements chains.Builder for Foundry projects
type Builder struct {
	runner     toolchain.Runner
	minVersion string
	logger     *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithMinVersion rejects forge releases older than v (X.Y.Z).
func WithMinVersion(v string) Option {
	return func(b *Builder) { b.minVersion = v }
}

// WithLogger sets the builder's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) { b.logger = logger }
}

// New creates a new Foundry builder
func New(runner toolchain.Runner, opts ...Option) *Builder {
	b := &Builder{runner: runner, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "foundry")
	return b
}

// Name returns the builder identifier
func (b *Builder) Name() string {
	return "foundry"
}

// DisplayName returns a human-readable name
func (b *Builder) DisplayName() string {
	return "Foundry"
}

// Chain returns the chain this builder targets
func (b *Builder) Chain() string {
	return "evm"
}

// ConfigFile returns the config file name
func (b *Builder) ConfigFile() string {
	return "foundry.toml"
}

// Detect checks if a directory is a Foundry project
func (b *Builder) Detect(dir string) (bool, error) {
	configPath := filepath.Join(dir, b.ConfigFile())
	_, err := os.Stat(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Build compiles the project and returns the init bytecode of contractName
// as reported by `forge inspect`.
func (b *Builder) Build(ctx context.Context, dir string, contractName string) (*chains.BuildOutput, error) {
	if err := b.runner.LookPath("forge"); err != nil {
		return nil, err
	}

	version, err := b.Version(ctx, dir)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("inspecting contract", "contract", contractName, "dir", dir, "forge", version)
	res, err := b.runner.Run(ctx, dir, "forge", "inspect", "--force", contractName, "bytecode")
	if err != nil {
		var exitErr *toolchain.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: forge inspect %s: %w", chains.ErrBuildFailure, contractName, err)
		}
		return nil, err
	}

	if !utf8.Valid(res.Stdout) {
		return nil, fmt.Errorf("%w: forge output for %s is not valid UTF-8", chains.ErrToolchain, contractName)
	}
	code, err := evm.CheckBuildOutput("forge", contractName, lastLine(string(res.Stdout)))
	if err != nil {
		return nil, err
	}

	return &chains.BuildOutput{
		Bytecode:         code,
		ToolchainVersion: "forge " + version,
	}, nil
}

// Version returns the installed forge version (X.Y.Z) and enforces the
// configured minimum.
func (b *Builder) Version(ctx context.Context, dir string) (string, error) {
	res, err := b.runner.Run(ctx, dir, "forge", "--version")
	if err != nil {
		var exitErr *toolchain.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%w: forge --version: %w", chains.ErrToolchain, err)
		}
		return "", err
	}

	m := versionRegex.FindStringSubmatch(string(res.Stdout))
	if m == nil {
		if b.minVersion != "" {
			return "", fmt.Errorf("%w: cannot parse forge version from %q", chains.ErrToolchain, lastLine(string(res.Stdout)))
		}
		return "unknown", nil
	}

	version := m[1]
	if !validation.AtLeast(version, b.minVersion) {
		return "", fmt.Errorf("%w: forge %s is older than required %s", chains.ErrDependencyMissing, version, b.minVersion)
	}
	return version, nil
}

// lastLine returns the last non-empty line; forge may print compiler
// progress before the bytecode.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

var _ chains.Builder = (*Builder)(nil)
