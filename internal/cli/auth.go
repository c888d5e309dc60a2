package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/deployproof/internal/auth"
)

// Credentials stores API keys per server
type Credentials struct {
	Servers map[string]ServerCredential `yaml:"servers"`
}

// ServerCredential stores credentials for a single server
type ServerCredential struct {
	APIKey string `yaml:"api_key"`
}

func createAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Store API keys for remote verification",
	}

	cmd.AddCommand(createAuthLoginCmd())
	cmd.AddCommand(createAuthLogoutCmd())
	cmd.AddCommand(createAuthStatusCmd())

	return cmd
}

func createAuthLoginCmd() *cobra.Command {
	var keyFlag string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save an API key for a server",
		Long: `Save an API key used by 'deployproof verify --remote'.

The key is stored in ~/.deployproof/credentials with mode 0600.

EXAMPLES:
  # Interactive (prompts for the key without echo)
  deployproof auth login --server https://deployproof.example.com

  # Non-interactive (for CI)
  deployproof auth login --key $DEPLOYPROOF_API_KEY
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogin(cmd.InOrStdin(), getServer(), keyFlag)
		},
	}

	cmd.Flags().StringVar(&keyFlag, "key", "", "API key (prompts if not provided)")

	return cmd
}

func createAuthLogoutCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove saved credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogout(getServer(), all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "clear all credentials")

	return cmd
}

func createAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show saved credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthStatus()
		},
	}
}

func runAuthLogin(in io.Reader, serverURL, key string) error {
	if key == "" {
		var err error
		key, err = promptAPIKey(in, serverURL)
		if err != nil {
			return err
		}
	}

	if !auth.WellFormed(key) {
		return fmt.Errorf("invalid API key: keys are created with 'deployproof keys create'")
	}

	if err := saveCredential(serverURL, key); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Printf("✅ Saved key %s for %s\n", auth.Redact(key), serverURL)
	fmt.Printf("   Credentials file: %s\n", credentialsFilePath())
	return nil
}

func promptAPIKey(in io.Reader, serverURL string) (string, error) {
	fmt.Printf("Enter API key for %s: ", serverURL)

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read API key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func runAuthLogout(serverURL string, all bool) error {
	if all {
		if err := os.Remove(credentialsFilePath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove credentials: %w", err)
		}
		fmt.Println("✅ All credentials cleared")
		return nil
	}

	creds, err := loadCredentials()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("No credentials found for %s\n", serverURL)
			return nil
		}
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if _, ok := creds.Servers[serverURL]; !ok {
		fmt.Printf("No credentials found for %s\n", serverURL)
		return nil
	}

	delete(creds.Servers, serverURL)
	if err := writeCredentials(creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Printf("✅ Logged out from %s\n", serverURL)
	return nil
}

func runAuthStatus() error {
	creds, err := loadCredentials()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds == nil || len(creds.Servers) == 0 {
		fmt.Println("No saved credentials")
		fmt.Println("\nRun 'deployproof auth login' to save a key")
		return nil
	}

	servers := make([]string, 0, len(creds.Servers))
	for s := range creds.Servers {
		servers = append(servers, s)
	}
	sort.Strings(servers)

	fmt.Println("Saved credentials:")
	for _, s := range servers {
		fmt.Printf("  • %s (key: %s)\n", s, auth.Redact(creds.Servers[s].APIKey))
	}
	return nil
}

// Credential file helpers

// stateDir holds credentials and the local audit database.
func stateDir() string {
	if dir := os.Getenv("DEPLOYPROOF_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deployproof"
	}
	return filepath.Join(home, ".deployproof")
}

func credentialsFilePath() string {
	return filepath.Join(stateDir(), "credentials")
}

func loadCredentials() (*Credentials, error) {
	data, err := os.ReadFile(credentialsFilePath())
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	if creds.Servers == nil {
		creds.Servers = make(map[string]ServerCredential)
	}
	return &creds, nil
}

func writeCredentials(creds *Credentials) error {
	if err := os.MkdirAll(stateDir(), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}
	return os.WriteFile(credentialsFilePath(), data, 0600)
}

func saveCredential(serverURL, key string) error {
	creds, err := loadCredentials()
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		creds = &Credentials{Servers: make(map[string]ServerCredential)}
	}

	creds.Servers[serverURL] = ServerCredential{APIKey: key}
	return writeCredentials(creds)
}

func getCredential(serverURL string) string {
	creds, err := loadCredentials()
	if err != nil {
		return ""
	}
	return creds.Servers[serverURL].APIKey
}
