// Package storage persists verification audit records and API keys.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pendergraft/deployproof/internal/config"
)

// VerificationStore handles the verification audit log
type VerificationStore interface {
	CreateVerification(ctx context.Context, v *Verification) error
	GetVerification(ctx context.Context, id string) (*Verification, error)
	ListVerifications(ctx context.Context, filter VerificationFilter, pagination PaginationParams) (*PaginatedResult[Verification], error)
}

// APIKeyStore handles API key operations
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, name string) (key string, err error)
	ValidateAPIKey(ctx context.Context, key string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	VerificationStore
	APIKeyStore

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
}

// Verification is one completed verification run. The RPC URL is not
// recorded because it may embed credentials.
type Verification struct {
	ID               string
	TxHash           string
	Address          string
	Repository       string
	Revision         string
	ResolvedRevision string
	Contract         string
	Builder          string
	ToolchainVersion string
	// Outcome is match, mismatch, not_found, ambiguous or error.
	Outcome string
	// Stage and Error describe an infrastructure failure.
	Stage       string
	Error       string
	OnChainHash string
	BuiltHash   string
	Warnings    []string
	DurationMS  int64
	CreatedAt   string
}

// APIKey represents an API key
type APIKey struct {
	ID         string
	Name       string
	KeyHash    string
	CreatedAt  string
	LastUsedAt string
	RevokedAt  string
}

// VerificationFilter contains filter options for listing verifications
type VerificationFilter struct {
	Address string
	TxHash  string
	Outcome string
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor string
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
