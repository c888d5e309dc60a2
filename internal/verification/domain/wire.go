package domain

import (
	"fmt"
	"log/slog"

	"github.com/pendergraft/deployproof/internal/chains/defaults"
	"github.com/pendergraft/deployproof/internal/chains/evm"
	"github.com/pendergraft/deployproof/internal/config"
	"github.com/pendergraft/deployproof/internal/toolchain"
	"github.com/pendergraft/deployproof/internal/workspace"
)

// NewFromConfig wires the production collaborators: JSON-RPC trace
// retrieval, git workspaces run through the system toolchain, the default
// builders and the configured metadata marker. store may be nil.
func NewFromConfig(cfg config.VerifierConfig, store VerificationStore, logger *slog.Logger) (*service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	marker, err := evm.ParseMarker(cfg.MetadataMarker)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	normalizer, err := evm.NewNormalizer(marker)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	runner := toolchain.NewExecRunner(logger)
	return NewService(Dependencies{
		Dial: RPCDialer(logger),
		Workspaces: workspace.NewManager(runner, workspace.Config{
			BaseDir: cfg.WorkDir,
			Keep:    cfg.KeepWorkspace,
		}, logger),
		Builders:   defaults.NewRegistry(runner, defaults.Options{MinForgeVersion: cfg.MinForgeVersion}, logger),
		Comparator: evm.NewComparator(normalizer),
		Store:      store,
		Logger:     logger,
	}), nil
}
