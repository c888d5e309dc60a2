package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Verification audit log
	CREATE TABLE IF NOT EXISTS verifications (
		id TEXT PRIMARY KEY,
		tx_hash TEXT NOT NULL,
		address TEXT NOT NULL,
		repository TEXT NOT NULL DEFAULT '',
		revision TEXT NOT NULL DEFAULT '',
		resolved_revision TEXT NOT NULL DEFAULT '',
		contract TEXT NOT NULL,
		builder TEXT NOT NULL DEFAULT '',
		toolchain_version TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		stage TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		onchain_hash TEXT NOT NULL DEFAULT '',
		built_hash TEXT NOT NULL DEFAULT '',
		warnings TEXT NOT NULL DEFAULT '[]',
		duration_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_verifications_address ON verifications(address);
	CREATE INDEX IF NOT EXISTS idx_verifications_tx_hash ON verifications(tx_hash);
	CREATE INDEX IF NOT EXISTS idx_verifications_created ON verifications(created_at DESC, id DESC);

	-- API keys
	CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		last_used_at TIMESTAMPTZ,
		revoked_at TIMESTAMPTZ
	);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// CreateVerification records a verification run, assigning ID and
// CreatedAt when empty.
func (s *PostgresStore) CreateVerification(ctx context.Context, v *Verification) error {
	if v.ID == "" {
		v.ID = generateID()
	}
	createdAt := time.Now().UTC()
	if v.CreatedAt != "" {
		t, err := time.Parse(timeLayout, v.CreatedAt)
		if err != nil {
			return fmt.Errorf("parsing created_at: %w", err)
		}
		createdAt = t
	}
	v.CreatedAt = createdAt.Format(timeLayout)

	warnings, err := encodeWarnings(v.Warnings)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verifications (id, tx_hash, address, repository, revision, resolved_revision, contract, builder,
			toolchain_version, outcome, stage, error, onchain_hash, built_hash, warnings, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, v.ID, strings.ToLower(v.TxHash), strings.ToLower(v.Address), v.Repository, v.Revision, v.ResolvedRevision,
		v.Contract, v.Builder, v.ToolchainVersion, v.Outcome, v.Stage, v.Error, v.OnChainHash, v.BuiltHash,
		warnings, v.DurationMS, createdAt)
	if err != nil {
		return fmt.Errorf("inserting verification: %w", err)
	}
	return nil
}

// GetVerification retrieves a verification by ID
func (s *PostgresStore) GetVerification(ctx context.Context, id string) (*Verification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+verificationColumns+` FROM verifications WHERE id = $1`, id)
	v, err := scanPostgresVerification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

// ListVerifications lists verifications, newest first
func (s *PostgresStore) ListVerifications(ctx context.Context, filter VerificationFilter, pagination PaginationParams) (*PaginatedResult[Verification], error) {
	if err := checkCursor(ctx, s.db, pagination.Cursor, "$1"); err != nil {
		return nil, err
	}
	query, args := listQuery(filter, pagination, func(n int) string { return fmt.Sprintf("$%d", n) })
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Verification
	for rows.Next() {
		v, err := scanPostgresVerification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return paginate(items, pagination.Limit), nil
}

func scanPostgresVerification(row rowScanner) (*Verification, error) {
	var v Verification
	var warnings string
	var createdAt time.Time
	err := row.Scan(&v.ID, &v.TxHash, &v.Address, &v.Repository, &v.Revision, &v.ResolvedRevision, &v.Contract,
		&v.Builder, &v.ToolchainVersion, &v.Outcome, &v.Stage, &v.Error, &v.OnChainHash, &v.BuiltHash,
		&warnings, &v.DurationMS, &createdAt)
	if err != nil {
		return nil, err
	}
	v.Warnings = decodeWarnings(warnings)
	v.CreatedAt = createdAt.UTC().Format(timeLayout)
	return &v, nil
}

// CreateAPIKey creates a new API key
func (s *PostgresStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key, err := generateAPIKey()
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, "INSERT INTO api_keys (id, key_hash, name) VALUES ($1, $2, $3)",
		generateID(), hashAPIKey(key), name)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates an API key
func (s *PostgresStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	var ak APIKey
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, "SELECT id, key_hash, name, created_at FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL", hashAPIKey(key)).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ak.CreatedAt = createdAt.Format("2006-01-02 15:04:05")
	// Update last used
	_, _ = s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = NOW() WHERE id = $1", ak.ID)
	return &ak, nil
}

// ListAPIKeys lists all active API keys
func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at, last_used_at FROM api_keys WHERE revoked_at IS NULL ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var createdAt time.Time
		var lastUsed sql.NullTime
		if err := rows.Scan(&k.ID, &k.Name, &createdAt, &lastUsed); err != nil {
			return nil, err
		}
		k.CreatedAt = createdAt.Format("2006-01-02 15:04:05")
		if lastUsed.Valid {
			k.LastUsedAt = lastUsed.Time.Format("2006-01-02 15:04:05")
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key
func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
