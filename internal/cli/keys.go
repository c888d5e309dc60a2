package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/pendergraft/deployproof/internal/config"
	"github.com/pendergraft/deployproof/internal/storage"
)

func createKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage server API keys",
		Long: `Manage the API keys accepted by 'deployproof serve' when AUTH_TYPE=api-key.

These commands open the server's store directly, using the same
STORAGE_TYPE, DATABASE_URL and SQLITE_PATH settings as the server.
`,
	}

	cmd.AddCommand(createKeysCreateCmd())
	cmd.AddCommand(createKeysListCmd())
	cmd.AddCommand(createKeysRevokeCmd())

	return cmd
}

func createKeysCreateCmd() *cobra.Command {
	var name string
	var outputFile string
	var quiet bool
	var show bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long: `Create a new API key for submitting verifications.

By default, the key is written to a file in the current directory.
The key is only shown once - it cannot be retrieved later.

EXAMPLES:
  # Create key, write to file (default)
  deployproof keys create --name "ci"

  # Create key, print only (for piping to secrets manager)
  deployproof keys create --name "ci" --quiet | gh secret set DEPLOYPROOF_API_KEY
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeyStore(cmd.Context(), func(ctx context.Context, store storage.APIKeyStore) error {
				return runKeysCreate(ctx, store, cmd.OutOrStdout(), name, outputFile, quiet, show)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "name/label for the key (required)")
	cmd.Flags().StringVarP(&outputFile, "file", "f", "", "write key to file (default: ./deployproof-key-{name}.txt)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the key (for piping)")
	cmd.Flags().BoolVar(&show, "show", false, "display key on screen")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func createKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeyStore(cmd.Context(), func(ctx context.Context, store storage.APIKeyStore) error {
				return runKeysList(ctx, store, cmd.OutOrStdout())
			})
		},
	}
}

func createKeysRevokeCmd() *cobra.Command {
	var keyID string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an API key",
		Long: `Revoke an API key to prevent further use.

Use 'deployproof keys list' to find the key ID. A unique ID prefix of at
least 8 characters is accepted.

EXAMPLES:
  deployproof keys revoke --id 3f2a9c1e
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeyStore(cmd.Context(), func(ctx context.Context, store storage.APIKeyStore) error {
				return runKeysRevoke(ctx, store, cmd.OutOrStdout(), keyID)
			})
		},
	}

	cmd.Flags().StringVar(&keyID, "id", "", "key ID to revoke (required)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func withKeyStore(ctx context.Context, fn func(context.Context, storage.APIKeyStore) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := openStore(ctx, cfg.Storage, cliLogger(cfg))
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, store)
}

func runKeysCreate(ctx context.Context, store storage.APIKeyStore, out io.Writer, name, outputFile string, quiet, show bool) error {
	key, err := store.CreateAPIKey(ctx, name)
	if err != nil {
		return fmt.Errorf("creating API key: %w", err)
	}

	if quiet {
		fmt.Fprintln(out, key)
		return nil
	}

	if show {
		fmt.Fprintln(out, "⚠️  API key (save this - it cannot be retrieved later):")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "   ", key)
		fmt.Fprintln(out)
		return nil
	}

	if outputFile == "" {
		outputFile = fmt.Sprintf("./deployproof-key-%s.txt", name)
	}
	if dir := filepath.Dir(outputFile); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}
	if err := os.WriteFile(outputFile, []byte(key+"\n"), 0600); err != nil {
		return fmt.Errorf("writing key to file: %w", err)
	}

	fmt.Fprintf(out, "✅ API key created: %s\n", name)
	fmt.Fprintf(out, "   Written to: %s (mode 0600)\n", outputFile)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "   ⚠️  This key cannot be retrieved later. Keep it safe!")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "   Usage:")
	fmt.Fprintln(out, "     deployproof auth login --key $(cat", outputFile+")")

	return nil
}

func runKeysList(ctx context.Context, store storage.APIKeyStore, out io.Writer) error {
	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("listing API keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Fprintln(out, "No API keys found")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Create one with: deployproof keys create --name \"my-key\"")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Created", "Last used"})
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != "" {
			lastUsed = k.LastUsedAt
		}
		t.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt, lastUsed})
	}
	t.Render()

	return nil
}

func runKeysRevoke(ctx context.Context, store storage.APIKeyStore, out io.Writer, keyID string) error {
	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("listing API keys: %w", err)
	}

	var matches []string
	for _, k := range keys {
		if k.ID == keyID {
			matches = []string{k.ID}
			break
		}
		if len(keyID) >= 8 && strings.HasPrefix(k.ID, keyID) {
			matches = append(matches, k.ID)
		}
	}

	switch len(matches) {
	case 0:
		return fmt.Errorf("key not found: %s", keyID)
	case 1:
	default:
		return fmt.Errorf("key ID prefix %s matches %d keys", keyID, len(matches))
	}

	if err := store.RevokeAPIKey(ctx, matches[0]); err != nil {
		return fmt.Errorf("revoking API key: %w", err)
	}

	fmt.Fprintf(out, "✅ API key revoked: %s\n", matches[0])
	return nil
}
