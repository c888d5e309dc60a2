// Package cli implements the deployproof command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	server  string
	apiKey  string
	output  string
	verbose bool
)

// ExitError carries a process exit status. The command has already reported
// everything the user needs, so nothing further is printed.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the CLI
func Execute(version string) error {
	// Values already in the environment win over .env entries.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "deployproof",
		Short: "Verify that deployed EVM bytecode matches its claimed source",
		Long: `deployproof checks that the initialization bytecode of a contract creation
matches the bytecode built from a source revision.

It locates the creation in the transaction trace, builds the contract with
Foundry or Hardhat, strips the trailing metadata from both sides and compares
them exactly.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: deployproof.toml)")
	rootCmd.PersistentFlags().StringVar(&server, "server", "", "server URL for remote commands (default from config)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "", "output format: text, json or yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline progress to stderr")

	rootCmd.AddCommand(createVerifyCmd())
	rootCmd.AddCommand(createServeCmd(version))
	rootCmd.AddCommand(createHistoryCmd())
	rootCmd.AddCommand(createKeysCmd())
	rootCmd.AddCommand(createAuthCmd())
	rootCmd.AddCommand(createConfigCmd())

	return rootCmd
}

// ExitCode maps an error returned by Execute to a process exit status.
// Errors other than ExitError are infrastructure failures.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 4
}

// getServer returns the server URL from flag, env, config file, or default
func getServer() string {
	// 1. Command line flag
	if server != "" {
		return server
	}

	// 2. Environment variable
	if env := os.Getenv("DEPLOYPROOF_SERVER"); env != "" {
		return env
	}

	// 3. Project config file (TOML)
	if config := loadProjectConfigSilent(); config != nil && config.Server != "" {
		return config.Server
	}

	// 4. Default
	return "http://localhost:8080"
}

// getAPIKey returns the API key from flag, env, or credentials file
func getAPIKey() string {
	// 1. Command line flag
	if apiKey != "" {
		return apiKey
	}

	// 2. Environment variable
	if env := os.Getenv("DEPLOYPROOF_API_KEY"); env != "" {
		return env
	}

	// 3. Credentials file (keyed by server URL)
	if cred := getCredential(getServer()); cred != "" {
		return cred
	}

	return ""
}
