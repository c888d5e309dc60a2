package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pendergraft/deployproof/internal/config"
	"github.com/pendergraft/deployproof/internal/verification/domain"
	"github.com/pendergraft/deployproof/pkg/client"
)

// historyReader is the read side shared by the local audit log and a server.
type historyReader interface {
	Get(ctx context.Context, id string) (*domain.VerifyResult, error)
	List(ctx context.Context, filter domain.ListFilter, pagination domain.PaginationParams) (*domain.ListResult, error)
}

func createHistoryCmd() *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse recorded verifications",
		Long: `Browse the verification audit log.

By default this reads the local history written by 'deployproof verify'.
With --remote it reads the audit log of a deployproof server.
`,
	}

	cmd.PersistentFlags().BoolVar(&remote, "remote", false, "read the audit log of a deployproof server")

	cmd.AddCommand(createHistoryListCmd(&remote))
	cmd.AddCommand(createHistoryShowCmd(&remote))

	return cmd
}

func createHistoryListCmd(remote *bool) *cobra.Command {
	var filter domain.ListFilter
	var outcome string
	var pagination domain.PaginationParams

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List verifications, newest first",
		Long: `List recorded verifications, newest first.

EXAMPLES:
  # Everything recorded for one contract
  deployproof history list --address 0xdef...

  # Failed verifications only
  deployproof history list --outcome mismatch

  # Next page
  deployproof history list --cursor <id>
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Outcome = domain.Outcome(outcome)
			return withHistory(cmd, *remote, func(ctx context.Context, h historyReader, r *renderer) error {
				page, err := h.List(ctx, filter, pagination)
				if err != nil {
					return err
				}
				return r.Page(page)
			})
		},
	}

	cmd.Flags().StringVar(&filter.Address, "address", "", "filter by contract address")
	cmd.Flags().StringVar(&filter.TxHash, "tx", "", "filter by transaction hash")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (match, mismatch, not_found, ambiguous, error)")
	cmd.Flags().IntVar(&pagination.Limit, "limit", 20, "page size (max 100)")
	cmd.Flags().StringVar(&pagination.Cursor, "cursor", "", "continue after this verification ID")

	return cmd
}

func createHistoryShowCmd(remote *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one verification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, *remote, func(ctx context.Context, h historyReader, r *renderer) error {
				res, err := h.Get(ctx, args[0])
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("verification not found: %s", args[0])
				}
				if err != nil {
					return err
				}
				return r.Result(res)
			})
		},
	}
}

func withHistory(cmd *cobra.Command, remote bool, fn func(context.Context, historyReader, *renderer) error) error {
	ctx := cmd.Context()

	format, err := resolveOutput(loadProjectConfigSilent(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	r := newRenderer(cmd.OutOrStdout(), format)

	if remote {
		return fn(ctx, remoteHistory{client.New(getServer(), getAPIKey())}, r)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := cliLogger(cfg)
	store, err := openHistoryStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, domain.NewService(domain.Dependencies{Store: store, Logger: logger}), r)
}

// remoteHistory reads a server's audit log through the API client.
type remoteHistory struct {
	c *client.Client
}

func (h remoteHistory) Get(ctx context.Context, id string) (*domain.VerifyResult, error) {
	v, err := h.c.GetVerification(ctx, id)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return fromRemote(v), nil
}

func (h remoteHistory) List(ctx context.Context, filter domain.ListFilter, pagination domain.PaginationParams) (*domain.ListResult, error) {
	resp, err := h.c.ListVerifications(ctx, client.ListOptions{
		Address: filter.Address,
		TxHash:  filter.TxHash,
		Outcome: string(filter.Outcome),
		Limit:   pagination.Limit,
		Cursor:  pagination.Cursor,
	})
	if err != nil {
		return nil, err
	}

	page := &domain.ListResult{
		Data:       make([]domain.VerifyResult, 0, len(resp.Data)),
		HasMore:    resp.Pagination.HasMore,
		NextCursor: resp.Pagination.NextCursor,
	}
	for i := range resp.Data {
		page.Data = append(page.Data, *fromRemote(&resp.Data[i]))
	}
	return page, nil
}
