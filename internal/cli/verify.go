package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/deployproof/internal/config"
	"github.com/pendergraft/deployproof/internal/storage"
	"github.com/pendergraft/deployproof/internal/verification/domain"
	"github.com/pendergraft/deployproof/pkg/client"
)

type verifyOptions struct {
	txHash          string
	address         string
	rpcURL          string
	repository      string
	revision        string
	sourceDir       string
	contract        string
	metadataMarker  string
	minForgeVersion string
	keepWorkspace   bool
	remote          bool
	noRecord        bool
	timeout         time.Duration
}

func createVerifyCmd() *cobra.Command {
	var opts verifyOptions

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a deployment against its source",
		Long: `Verify that the contract created at --address by transaction --tx was
built from the given source.

The source is a git repository (--repo, optionally at --rev) or a local
checkout (--source-dir). The node at --rpc must support trace_transaction.

EXIT STATUS:
  0  match
  1  mismatch
  2  creation not found in the trace
  3  ambiguous creation
  4  error (RPC, build, toolchain, malformed bytecode, configuration)

EXAMPLES:
  # Verify against a tagged release
  deployproof verify --tx 0xabc... --address 0xdef... \
    --repo https://github.com/acme/token --rev v1.2.0 --contract Token

  # Verify a local checkout
  deployproof verify --tx 0xabc... --address 0xdef... --source-dir . --contract Token

  # Submit to a deployproof server
  deployproof verify --remote --tx 0xabc... --address 0xdef... \
    --repo https://github.com/acme/token --contract Token
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.txHash, "tx", "", "deployment transaction hash (required)")
	cmd.Flags().StringVar(&opts.address, "address", "", "address of the created contract (required)")
	cmd.Flags().StringVar(&opts.contract, "contract", "", "contract name to build (required)")
	cmd.Flags().StringVar(&opts.rpcURL, "rpc", "", "RPC URL supporting trace_transaction (default from RPC_URL or config)")
	cmd.Flags().StringVar(&opts.repository, "repo", "", "git repository to clone")
	cmd.Flags().StringVar(&opts.revision, "rev", "", "branch, tag or commit to check out")
	cmd.Flags().StringVar(&opts.sourceDir, "source-dir", "", "local project directory instead of --repo")
	cmd.Flags().StringVar(&opts.metadataMarker, "metadata-marker", "", "metadata marker preset (solc, solc-ipfs, solc-bzzr0, solc-bzzr1) or hex")
	cmd.Flags().StringVar(&opts.minForgeVersion, "min-forge-version", "", "oldest accepted forge version")
	cmd.Flags().BoolVar(&opts.keepWorkspace, "keep-workspace", false, "keep the cloned workspace")
	cmd.Flags().BoolVar(&opts.remote, "remote", false, "run the verification on a deployproof server")
	cmd.Flags().BoolVar(&opts.noRecord, "no-record", false, "do not append the result to the local history")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "abort the verification after this duration")
	_ = cmd.MarkFlagRequired("tx")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("contract")

	return cmd
}

func runVerify(cmd *cobra.Command, opts verifyOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	project := loadProjectConfigSilent()
	format, err := resolveOutput(project, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyProjectConfig(&cfg.Verifier, project)
	opts.apply(cmd, &cfg.Verifier)

	timeout := opts.timeout
	if timeout == 0 && cfg.Verifier.Timeout > 0 {
		timeout = time.Duration(cfg.Verifier.Timeout) * time.Second
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var result *domain.VerifyResult
	if opts.remote {
		result, err = verifyRemote(ctx, opts, cfg.Verifier)
	} else {
		result, err = verifyLocal(ctx, opts, cfg)
	}
	if err != nil {
		return err
	}

	if err := newRenderer(cmd.OutOrStdout(), format).Result(result); err != nil {
		return err
	}
	if code := result.Outcome.ExitCode(); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// apply overrides verifier settings with the flags the user set.
func (o verifyOptions) apply(cmd *cobra.Command, v *config.VerifierConfig) {
	if o.rpcURL != "" {
		v.RPCURL = o.rpcURL
	}
	if o.metadataMarker != "" {
		v.MetadataMarker = o.metadataMarker
	}
	if o.minForgeVersion != "" {
		v.MinForgeVersion = o.minForgeVersion
	}
	if cmd.Flags().Changed("keep-workspace") {
		v.KeepWorkspace = o.keepWorkspace
	}
}

func (o verifyOptions) request(rpcURL string) domain.VerifyRequest {
	return domain.VerifyRequest{
		TxHash:     o.txHash,
		Address:    o.address,
		RPCURL:     rpcURL,
		Repository: o.repository,
		Revision:   o.revision,
		SourceDir:  o.sourceDir,
		Contract:   o.contract,
	}
}

func verifyLocal(ctx context.Context, opts verifyOptions, cfg *config.Config) (*domain.VerifyResult, error) {
	logger := cliLogger(cfg)

	var store domain.VerificationStore
	if !opts.noRecord {
		st, err := openHistoryStore(ctx, cfg, logger)
		if err != nil {
			logger.Warn("history unavailable, result will not be recorded", "error", err)
		} else {
			defer st.Close()
			store = st
		}
	}

	svc, err := domain.NewFromConfig(cfg.Verifier, store, logger)
	if err != nil {
		return nil, err
	}
	return domain.LoggingMiddleware(logger)(svc).Verify(ctx, opts.request(cfg.Verifier.RPCURL))
}

// verifyRemote submits the request to a server. An empty RPC URL lets the
// server use its own default node.
func verifyRemote(ctx context.Context, opts verifyOptions, v config.VerifierConfig) (*domain.VerifyResult, error) {
	if opts.sourceDir != "" {
		return nil, fmt.Errorf("--source-dir cannot be used with --remote")
	}

	c := client.New(getServer(), getAPIKey())
	resp, err := c.Verify(ctx, client.VerifyRequest{
		TxHash:     opts.txHash,
		Address:    opts.address,
		RPCURL:     v.RPCURL,
		Repository: opts.repository,
		Revision:   opts.revision,
		Contract:   opts.contract,
	})
	if err != nil {
		return nil, err
	}
	return fromRemote(resp), nil
}

func fromRemote(v *client.Verification) *domain.VerifyResult {
	res := &domain.VerifyResult{
		ID:               v.ID,
		Outcome:          domain.Outcome(v.Outcome),
		Message:          v.Message,
		TxHash:           v.TxHash,
		Address:          v.Address,
		Contract:         v.Contract,
		Repository:       v.Repository,
		Revision:         v.Revision,
		ResolvedRevision: v.ResolvedRevision,
		Builder:          v.Builder,
		ToolchainVersion: v.ToolchainVersion,
		Stage:            domain.Stage(v.Stage),
		Error:            v.Error,
		Warnings:         v.Warnings,
		DurationMS:       v.DurationMS,
		CreatedAt:        v.CreatedAt,
	}
	if d := v.Details; d != nil {
		res.Details = &domain.VerifyDetails{
			TracePosition:   d.TracePosition,
			CreationMethod:  d.CreationMethod,
			MetadataMarker:  d.MetadataMarker,
			OnChainHash:     d.OnChainHash,
			BuiltHash:       d.BuiltHash,
			OnChainStripped: d.OnChainStripped,
			BuiltStripped:   d.BuiltStripped,
			OnChain:         d.OnChain,
			Built:           d.Built,
		}
	}
	return res
}

// openHistoryStore opens the audit store used by verify and history. Unless
// SQLITE_PATH is set, the SQLite file lives in the user's state directory.
func openHistoryStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	storageCfg := cfg.Storage
	if storageCfg.Type == "sqlite" && os.Getenv("SQLITE_PATH") == "" {
		storageCfg.SQLite.Path = filepath.Join(stateDir(), "history.db")
	}
	return openStore(ctx, storageCfg, logger)
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	store, err := storage.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}
