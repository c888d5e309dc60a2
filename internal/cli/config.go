package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/pendergraft/deployproof/internal/auth"
	"github.com/pendergraft/deployproof/internal/config"
)

// projectConfigFiles is the search order for project config files
var projectConfigFiles = []string{"deployproof.toml", ".deployproof.toml"}

// ProjectConfig is the project-level TOML configuration
type ProjectConfig struct {
	Server          string `toml:"server"`
	RPC             string `toml:"rpc,omitempty"`
	MetadataMarker  string `toml:"metadata_marker,omitempty"`
	Output          string `toml:"output,omitempty"`
	KeepWorkspace   *bool  `toml:"keep_workspace,omitempty"`
	MinForgeVersion string `toml:"min_forge_version,omitempty"`
}

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var serverURL string
	var rpcURL string
	var marker string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a deployproof.toml configuration file in the current directory.

The file stores project defaults such as the RPC endpoint and the metadata
marker. Flags and environment variables override it.

EXAMPLES:
  # Create config with defaults
  deployproof config init

  # Create config for a specific node
  deployproof config init --rpc https://eth.example.com

  # Overwrite existing config
  deployproof config init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(serverURL, rpcURL, marker, force)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "server URL for remote verification")
	cmd.Flags().StringVar(&rpcURL, "rpc", "", "default RPC URL (must support trace_transaction)")
	cmd.Flags().StringVar(&marker, "metadata-marker", "solc", "metadata marker preset or hex")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		Long: `Display the configuration sources and the effective settings.

Precedence: command line flags, environment variables, deployproof.toml,
built-in defaults.

EXAMPLES:
  deployproof config show
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}
}

func runConfigInit(serverURL, rpcURL, marker string, force bool) error {
	configPath := projectConfigFiles[0]

	for _, name := range projectConfigFiles {
		if _, err := os.Stat(name); err == nil && !force {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", name)
		}
	}

	content := fmt.Sprintf(`# deployproof project configuration

server = %q

# Node used for trace_transaction; RPC_URL and --rpc override it
rpc = %q

# Trailing metadata marker: solc, solc-ipfs, solc-bzzr0, solc-bzzr1 or raw hex
metadata_marker = %q

# Report format: text, json or yaml (default: text on a terminal, json otherwise)
# output = "text"

# Keep cloned workspaces for inspection
# keep_workspace = false

# Oldest forge release accepted for builds
# min_forge_version = "1.0.0"
`, serverURL, rpcURL, marker)

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Edit %s to customize settings\n", configPath)
	fmt.Println("  2. Run 'deployproof verify --tx <hash> --address <addr> --repo <url> --contract <name>'")

	return nil
}

func runConfigShow() error {
	fmt.Println("Configuration sources (in order of precedence):")
	fmt.Println()

	fmt.Println("1. Command line flags")
	fmt.Println("   --rpc, --metadata-marker, --keep-workspace, --server, --api-key, --output, --config")
	fmt.Println()

	fmt.Println("2. Environment variables")
	for _, key := range []string{"RPC_URL", "METADATA_MARKER", "KEEP_WORKSPACE", "MIN_FORGE_VERSION", "DEPLOYPROOF_SERVER", "DEPLOYPROOF_OUTPUT"} {
		if v := os.Getenv(key); v != "" {
			fmt.Printf("   %s=%s\n", key, v)
		} else {
			fmt.Printf("   %s=(not set)\n", key)
		}
	}
	if key := os.Getenv("DEPLOYPROOF_API_KEY"); key != "" {
		fmt.Printf("   DEPLOYPROOF_API_KEY=%s\n", auth.Redact(key))
	} else {
		fmt.Println("   DEPLOYPROOF_API_KEY=(not set)")
	}
	fmt.Println()

	fmt.Println("3. Project config (deployproof.toml)")
	project, path, err := loadProjectConfig()
	switch {
	case os.IsNotExist(err):
		fmt.Println("   (not found)")
	case err != nil:
		fmt.Printf("   Error: %v\n", err)
	default:
		fmt.Printf("   Loaded from: %s\n", path)
		printSetting("server", project.Server)
		printSetting("rpc", project.RPC)
		printSetting("metadata_marker", project.MetadataMarker)
		printSetting("output", project.Output)
		if project.KeepWorkspace != nil {
			printSetting("keep_workspace", strconv.FormatBool(*project.KeepWorkspace))
		}
		printSetting("min_forge_version", project.MinForgeVersion)
	}
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyProjectConfig(&cfg.Verifier, project)

	fmt.Println("Effective configuration:")
	fmt.Printf("   RPC:             %s\n", orNotSet(cfg.Verifier.RPCURL))
	fmt.Printf("   Metadata marker: %s\n", cfg.Verifier.MetadataMarker)
	fmt.Printf("   Keep workspace:  %t\n", cfg.Verifier.KeepWorkspace)
	fmt.Printf("   Min forge:       %s\n", orNotSet(cfg.Verifier.MinForgeVersion))
	fmt.Printf("   Server:          %s\n", getServer())
	if key := getAPIKey(); key != "" {
		fmt.Printf("   API Key:         %s\n", auth.Redact(key))
	} else {
		fmt.Println("   API Key:         (not set)")
	}

	return nil
}

func printSetting(name, value string) {
	if value != "" {
		fmt.Printf("   %s: %s\n", name, value)
	}
}

func orNotSet(v string) string {
	if v == "" {
		return "(not set)"
	}
	return v
}

// applyProjectConfig fills verifier settings from the project file where the
// environment left them unset.
func applyProjectConfig(v *config.VerifierConfig, project *ProjectConfig) {
	if project == nil {
		return
	}
	if os.Getenv("RPC_URL") == "" && project.RPC != "" {
		v.RPCURL = project.RPC
	}
	if os.Getenv("METADATA_MARKER") == "" && project.MetadataMarker != "" {
		v.MetadataMarker = project.MetadataMarker
	}
	if os.Getenv("KEEP_WORKSPACE") == "" && project.KeepWorkspace != nil {
		v.KeepWorkspace = *project.KeepWorkspace
	}
	if os.Getenv("MIN_FORGE_VERSION") == "" && project.MinForgeVersion != "" {
		v.MinForgeVersion = project.MinForgeVersion
	}
}

// loadProjectConfig loads the project config from the first matching config file.
// Returns the config, the path it was loaded from, and an error.
func loadProjectConfig() (*ProjectConfig, string, error) {
	// If --config flag was provided, use that directly
	if cfgFile != "" {
		config, err := loadProjectConfigFromPath(cfgFile)
		if err != nil {
			return nil, cfgFile, err
		}
		return config, cfgFile, nil
	}

	for _, name := range projectConfigFiles {
		if _, err := os.Stat(name); err == nil {
			config, err := loadProjectConfigFromPath(name)
			if err != nil {
				return nil, name, err
			}
			return config, name, nil
		}
	}
	return nil, "", os.ErrNotExist
}

// loadProjectConfigFromPath loads a project config from a specific path
func loadProjectConfigFromPath(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config ProjectConfig
	meta, err := toml.Decode(string(data), &config)
	if err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown setting %q in %s", undecoded[0].String(), path)
	}

	return &config, nil
}

// loadProjectConfigSilent loads the project config without returning errors for missing files.
// Returns nil if the file doesn't exist; parse failures are printed as warnings.
func loadProjectConfigSilent() *ProjectConfig {
	config, _, err := loadProjectConfig()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		fmt.Fprintf(os.Stderr, "Warning: failed to load project config: %v\n", err)
		return nil
	}
	return config
}
