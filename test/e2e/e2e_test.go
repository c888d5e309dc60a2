//go:build e2e

package e2e

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"
)

var testCtx *TestContext

func TestMain(m *testing.M) {
	flag.Parse()
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()
	testCtx = &TestContext{}

	// 1. Start Postgres container
	log.Println("Starting Postgres container...")
	var err error
	testCtx.PostgresContainer, testCtx.ConnString, err = setupPostgresE(ctx)
	if err != nil {
		log.Printf("Failed to start postgres: %v", err)
		return 1
	}
	defer func() {
		if err := testCtx.PostgresContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate postgres container: %v", err)
		}
	}()

	// 2. Trace node and source repository
	testCtx.Node = startNode()
	defer testCtx.Node.Close()

	repoDir, err := createSourceRepoE()
	if err != nil {
		log.Printf("Failed to create source repository: %v", err)
		return 1
	}
	defer os.RemoveAll(repoDir)
	testCtx.RepoURL = "file://" + repoDir

	workDir, err := os.MkdirTemp("", "deployproof-e2e-work-")
	if err != nil {
		log.Printf("Failed to create work directory: %v", err)
		return 1
	}
	defer os.RemoveAll(workDir)
	testCtx.Workspaces = workDir

	// 3. Start test server
	log.Println("Starting test server...")
	testCtx.TestServer, testCtx.Store, err = startServerE(testCtx.ConnString, workDir)
	if err != nil {
		log.Printf("Failed to start server: %v", err)
		return 1
	}
	defer testCtx.Store.Close()
	defer testCtx.TestServer.Close()
	log.Println("Test server started at:", testCtx.TestServer.URL)

	return m.Run()
}
