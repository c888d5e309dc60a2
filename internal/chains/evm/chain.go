// Package evm provides the EVM chain module: trace retrieval, creation
// lookup, metadata normalization and bytecode comparison.
package evm

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/pendergraft/deployproof/internal/chains"
)

// Chain implements the chains.Chain interface for EVM-compatible blockchains
type Chain struct {
	builders []chains.Builder
}

// NewChain creates a new EVM chain module. Builders are probed in the given
// order during detection.
func NewChain(builders ...chains.Builder) *Chain {
	return &Chain{builders: builders}
}

// Name returns the chain identifier
func (c *Chain) Name() string {
	return "evm"
}

// DisplayName returns a human-readable name
func (c *Chain) DisplayName() string {
	return "Ethereum/EVM"
}

// Builders returns all available builders for this chain
func (c *Chain) Builders() []chains.Builder {
	return c.builders
}

// DetectBuilder detects which builder is used in the given directory
func (c *Chain) DetectBuilder(dir string) (chains.Builder, error) {
	b, ok := lo.Find(c.builders, func(b chains.Builder) bool {
		detected, err := b.Detect(dir)
		return err == nil && detected
	})
	if !ok {
		return nil, fmt.Errorf("no EVM builder detected in %s", dir)
	}
	return b, nil
}

// Builder returns the builder with the given name.
func (c *Chain) Builder(name string) (chains.Builder, bool) {
	return lo.Find(c.builders, func(b chains.Builder) bool { return b.Name() == name })
}
