// Package defaults wires the built-in chain modules into a registry.
package defaults

import (
	"log/slog"

	"github.com/pendergraft/deployproof/internal/chains"
	"github.com/pendergraft/deployproof/internal/chains/evm"
	"github.com/pendergraft/deployproof/internal/chains/evm/foundry"
	"github.com/pendergraft/deployproof/internal/chains/evm/hardhat"
	"github.com/pendergraft/deployproof/internal/toolchain"
)

// Options configures the default builders.
type Options struct {
	MinForgeVersion string
}

// NewRegistry returns a registry with the EVM chain and its Foundry and
// Hardhat builders. Foundry is probed first.
func NewRegistry(runner toolchain.Runner, opts Options, logger *slog.Logger) *chains.Registry {
	reg := chains.NewRegistry()
	reg.Register(evm.NewChain(
		foundry.New(runner, foundry.WithMinVersion(opts.MinForgeVersion), foundry.WithLogger(logger)),
		hardhat.New(runner, logger),
	))
	return reg
}
