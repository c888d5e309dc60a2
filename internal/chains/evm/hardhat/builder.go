// Package hardhat provides the Hardhat builder for EVM contracts.
package hardhat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"github.com/pendergraft/deployproof/internal/chains"
	"github.com/pendergraft/deployproof/internal/chains/evm"
	"github.com/pendergraft/deployproof/internal/toolchain"
)

// configFiles are the config names Hardhat resolves, in lookup order.
var configFiles = []string{"hardhat.config.js", "hardhat.config.ts", "hardhat.config.cjs", "hardhat.config.mjs"}

// Builder implements chains.Builder for Hardhat projects
type Builder struct {
	runner toolchain.Runner
	logger *slog.Logger
}

// New creates a new Hardhat builder
func New(runner toolchain.Runner, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{runner: runner, logger: logger.With("component", "hardhat")}
}

// Name returns the builder identifier
func (b *Builder) Name() string {
	return "hardhat"
}

// DisplayName returns a human-readable name
func (b *Builder) DisplayName() string {
	return "Hardhat"
}

// Chain returns the chain this builder targets
func (b *Builder) Chain() string {
	return "evm"
}

// ConfigFile returns the default config file name
func (b *Builder) ConfigFile() string {
	return configFiles[0]
}

// Detect checks if a directory is a Hardhat project
func (b *Builder) Detect(dir string) (bool, error) {
	for _, name := range configFiles {
		_, err := os.Stat(filepath.Join(dir, name))
		if err == nil {
			return true, nil
		}
		if !os.IsNotExist(err) {
			return false, err
		}
	}
	return false, nil
}

// artifact is the subset of a Hardhat contract artifact we read.
type artifact struct {
	Format         string          `json:"_format"`
	ContractName   string          `json:"contractName"`
	SourceName     string          `json:"sourceName"`
	Bytecode       string          `json:"bytecode"`
	LinkReferences json.RawMessage `json:"linkReferences"`
}

// Build runs `npx hardhat compile` and reads the init bytecode of
// contractName from its artifact.
func (b *Builder) Build(ctx context.Context, dir string, contractName string) (*chains.BuildOutput, error) {
	if err := b.runner.LookPath("npx"); err != nil {
		return nil, err
	}

	version := "unknown"
	if res, err := b.runner.Run(ctx, dir, "npx", "hardhat", "--version"); err == nil {
		if v := strings.TrimSpace(string(res.Stdout)); v != "" {
			version = v
		}
	} else if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	b.logger.Debug("compiling project", "dir", dir, "hardhat", version)
	if _, err := b.runner.Run(ctx, dir, "npx", "hardhat", "compile"); err != nil {
		var exitErr *toolchain.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: hardhat compile: %w", chains.ErrBuildFailure, err)
		}
		return nil, err
	}

	art, err := findArtifact(filepath.Join(dir, "artifacts"), contractName)
	if err != nil {
		return nil, err
	}
	if refs := strings.TrimSpace(string(art.LinkReferences)); refs != "" && refs != "{}" && refs != "null" {
		return nil, fmt.Errorf("%w: %s requires library linking", chains.ErrBuildFailure, contractName)
	}

	code, err := evm.CheckBuildOutput("hardhat", contractName, art.Bytecode)
	if err != nil {
		return nil, err
	}
	return &chains.BuildOutput{
		Bytecode:         code,
		ToolchainVersion: "hardhat " + version,
	}, nil
}

// findArtifact locates the single artifact named contractName under root.
func findArtifact(root, contractName string) (*artifact, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == contractName+".json" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: artifacts directory not found after compile", chains.ErrBuildFailure)
		}
		return nil, fmt.Errorf("%w: reading artifacts: %v", chains.ErrToolchain, err)
	}

	arts := make([]*artifact, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", chains.ErrToolchain, p, err)
		}
		var a artifact
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", chains.ErrToolchain, p, err)
		}
		if a.ContractName == contractName {
			arts = append(arts, &a)
		}
	}

	switch len(arts) {
	case 0:
		return nil, fmt.Errorf("%w: no artifact for contract %s", chains.ErrBuildFailure, contractName)
	case 1:
		return arts[0], nil
	default:
		sources := lo.Map(arts, func(a *artifact, _ int) string { return a.SourceName })
		return nil, fmt.Errorf("%w: contract name %s is defined in multiple sources: %s",
			chains.ErrBuildFailure, contractName, strings.Join(sources, ", "))
	}
}

var _ chains.Builder = (*Builder)(nil)
