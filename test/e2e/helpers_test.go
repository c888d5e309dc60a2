//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pendergraft/deployproof/internal/chains"
	"github.com/pendergraft/deployproof/internal/chains/evm"
	"github.com/pendergraft/deployproof/internal/config"
	"github.com/pendergraft/deployproof/internal/server"
	"github.com/pendergraft/deployproof/internal/storage"
	"github.com/pendergraft/deployproof/internal/toolchain"
	"github.com/pendergraft/deployproof/internal/verification/domain"
	"github.com/pendergraft/deployproof/internal/workspace"
	"github.com/pendergraft/deployproof/pkg/client"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	targetAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

	txMatch     = "0x1111111111111111111111111111111111111111111111111111111111111111"
	txNotFound  = "0x2222222222222222222222222222222222222222222222222222222222222222"
	txAmbiguous = "0x3333333333333333333333333333333333333333333333333333333333333333"

	// Runtime-independent init code; the metadata tails differ between the
	// on-chain and built versions the way separate compilations do.
	initCode   = "0x6080604052348015600f57600080fd5b50603f80601d6000396000f3fe6080604052600080fd"
	metaChain  = "a2646970667358221220aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa64736f6c63430008180033"
	metaBuilt  = "a2646970667358221220bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb64736f6c63430008180033"
	initCodeV2 = "0x6080604052348015600f57600080fd5b50604080601d6000396000f3fe608060405260006000fd"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	Node              *httptest.Server
	RepoURL           string
	Workspaces        string
	TestServer        *httptest.Server
	Store             storage.Store
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("deployproof"),
		postgres.WithUsername("deployproof"),
		postgres.WithPassword("deployproof"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// startNode serves trace_transaction for the fixed test transactions.
func startNode() *httptest.Server {
	create := func(init string) map[string]any {
		return map[string]any{
			"type":         "create",
			"action":       map[string]any{"from": "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", "init": init, "creationMethod": "create"},
			"result":       map[string]any{"address": strings.ToLower(targetAddress), "code": "0x6080"},
			"traceAddress": []int{},
			"subtraces":    0,
		}
	}
	call := map[string]any{
		"type":         "call",
		"action":       map[string]any{"from": "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"},
		"result":       map[string]any{"gasUsed": "0x0", "output": "0x"},
		"traceAddress": []int{},
		"subtraces":    0,
	}
	traces := map[string][]map[string]any{
		txMatch:     {create(initCode + metaChain)},
		txNotFound:  {call},
		txAmbiguous: {create(initCode + metaChain), create(initCode + metaChain)},
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params []string        `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch {
		case req.Method != "trace_transaction":
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		case len(req.Params) == 1 && traces[req.Params[0]] != nil:
			resp["result"] = traces[req.Params[0]]
		default:
			resp["result"] = nil
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

// createSourceRepoE creates a git repository with two tagged revisions of
// the prebuilt bytecode: v1 matches the chain, v2 does not.
func createSourceRepoE() (string, error) {
	dir, err := os.MkdirTemp("", "deployproof-e2e-source-")
	if err != nil {
		return "", err
	}

	git := func(args ...string) error {
		// #nosec G204 -- controlled command
		cmd := exec.Command("git", append([]string{"-c", "user.name=e2e", "-c", "user.email=e2e@example.com"}, args...)...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git %s: %w\n%s", strings.Join(args, " "), err, out)
		}
		return nil
	}
	write := func(bytecode string) error {
		return os.WriteFile(filepath.Join(dir, prebuiltFile), []byte(bytecode+"\n"), 0644)
	}

	steps := []func() error{
		func() error { return git("init", "--quiet") },
		func() error { return write(initCode + metaBuilt) },
		func() error { return git("add", ".") },
		func() error { return git("commit", "--quiet", "-m", "v1") },
		func() error { return git("tag", "v1") },
		func() error { return write(initCodeV2 + metaBuilt) },
		func() error { return git("commit", "--quiet", "-am", "v2") },
		func() error { return git("tag", "v2") },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}
	return dir, nil
}

const prebuiltFile = "prebuilt.hex"

// prebuiltBuilder "compiles" a project by reading the bytecode committed
// at prebuilt.hex, so the suite runs without forge or node.
type prebuiltBuilder struct{}

func (prebuiltBuilder) Name() string        { return "prebuilt" }
func (prebuiltBuilder) DisplayName() string { return "Prebuilt" }
func (prebuiltBuilder) Chain() string       { return "evm" }
func (prebuiltBuilder) ConfigFile() string  { return prebuiltFile }

func (prebuiltBuilder) Detect(dir string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, prebuiltFile))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (prebuiltBuilder) Build(_ context.Context, dir string, _ string) (*chains.BuildOutput, error) {
	data, err := os.ReadFile(filepath.Join(dir, prebuiltFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chains.ErrBuildFailure, err)
	}
	return &chains.BuildOutput{Bytecode: strings.TrimSpace(string(data)), ToolchainVersion: "prebuilt 1.0.0"}, nil
}

// startServerE starts the deployproof server in-process
func startServerE(connString, workDir string) (*httptest.Server, storage.Store, error) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Storage: config.StorageConfig{
			Type: "postgres",
			Postgres: config.PostgresConfig{
				URL: connString,
			},
		},
		Auth:      config.AuthConfig{Type: "api-key"},
		Logging:   config.LoggingConfig{Level: "debug", Format: "text"},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Security:  config.SecurityConfig{MaxBodySizeMB: 1},
		Proxy:     config.ProxyConfig{TrustProxy: false},
		Metrics:   config.MetricsConfig{Enabled: true, ServiceName: "deployproof-e2e"},
		Verifier: config.VerifierConfig{
			MetadataMarker:         "solc-ipfs",
			WorkDir:                workDir,
			Timeout:                60,
			AllowLocalRepositories: true,
		},
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	marker, err := evm.ParseMarker(cfg.Verifier.MetadataMarker)
	if err != nil {
		return nil, nil, err
	}
	normalizer, err := evm.NewNormalizer(marker)
	if err != nil {
		return nil, nil, err
	}

	// Real RPC client and git workspaces; only compilation is replaced.
	registry := chains.NewRegistry()
	registry.Register(evm.NewChain(prebuiltBuilder{}))
	svc := domain.NewService(domain.Dependencies{
		Dial:       domain.RPCDialer(logger),
		Workspaces: workspace.NewManager(toolchain.NewExecRunner(logger), workspace.Config{BaseDir: workDir}, logger),
		Builders:   registry,
		Comparator: evm.NewComparator(normalizer),
		Store:      store,
		Logger:     logger,
	})

	srv := server.NewWithService(cfg, store, domain.LoggingMiddleware(logger)(svc), logger)
	return httptest.NewServer(srv.Handler()), store, nil
}

// newClient creates a new API client for the test server
func newClient(testServer *httptest.Server, apiKey string) *client.Client {
	return client.New(testServer.URL, apiKey)
}

// createTestAPIKey creates a test API key using the store directly
func createTestAPIKey(t *testing.T, store storage.Store, name string) string {
	key, err := store.CreateAPIKey(context.Background(), name)
	require.NoError(t, err, "Failed to create API key")
	return key
}

func verifyRequest(tx, rev string) client.VerifyRequest {
	return client.VerifyRequest{
		TxHash:     tx,
		Address:    targetAddress,
		RPCURL:     testCtx.Node.URL,
		Repository: testCtx.RepoURL,
		Revision:   rev,
		Contract:   "Token",
	}
}

// assertHTTPError asserts that an error is an APIError with the expected code
func assertHTTPError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	require.Error(t, err, "Expected an error")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr, "Error should be an APIError")
	require.Equal(t, expectedCode, apiErr.Code, "Error code mismatch")
}
