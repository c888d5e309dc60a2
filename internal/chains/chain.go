// Package chains provides the chain module interfaces and the build provider
// abstraction used to compile a source revision into initialization bytecode.
package chains

import (
	"context"
	"fmt"
	"sort"
)

// Chain represents a blockchain ecosystem and the build tools it supports.
type Chain interface {
	Name() string        // "evm"
	DisplayName() string // "Ethereum/EVM"

	// Builder discovery
	DetectBuilder(dir string) (Builder, error)
	Builders() []Builder
}

// Builder compiles a prepared project with a specific build tool.
//
// Implementations must be deterministic for a fixed project directory,
// contract name and compiler configuration. Failures wrap ErrDependencyMissing,
// ErrBuildFailure or ErrToolchain.
type Builder interface {
	Name() string        // "foundry", "hardhat"
	DisplayName() string // "Foundry", "Hardhat"
	Chain() string       // "evm"

	// Detection
	Detect(dir string) (bool, error)
	ConfigFile() string // "foundry.toml", "hardhat.config.js"

	// Build returns the initialization bytecode of contractName.
	Build(ctx context.Context, dir string, contractName string) (*BuildOutput, error)
}

// BuildOutput is the result of compiling a single contract.
type BuildOutput struct {
	// Bytecode is the raw hex-encoded initialization bytecode as emitted by the tool.
	Bytecode string
	// ToolchainVersion identifies the tool that produced Bytecode, e.g. "forge 1.0.0".
	ToolchainVersion string
}

// Registry holds all registered chain modules
type Registry struct {
	chains map[string]Chain
}

// NewRegistry creates a new chain registry
func NewRegistry() *Registry {
	return &Registry{
		chains: make(map[string]Chain),
	}
}

// Register adds a chain module to the registry
func (r *Registry) Register(c Chain) {
	r.chains[c.Name()] = c
}

// Get retrieves a chain module by name
func (r *Registry) Get(name string) (Chain, bool) {
	c, ok := r.chains[name]
	return c, ok
}

// List returns all registered chain modules ordered by name
func (r *Registry) List() []Chain {
	chains := make([]Chain, 0, len(r.chains))
	for _, c := range r.chains {
		chains = append(chains, c)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].Name() < chains[j].Name() })
	return chains
}

// DetectChainAndBuilder detects the chain and builder for a project directory.
// An unsupported project layout is reported as ErrBuildFailure.
func (r *Registry) DetectChainAndBuilder(dir string) (Chain, Builder, error) {
	for _, chain := range r.List() {
		builder, err := chain.DetectBuilder(dir)
		if err == nil && builder != nil {
			return chain, builder, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: no supported build tool detected in %s", ErrBuildFailure, dir)
}
