package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
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
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_verifications_address ON verifications(address);
	CREATE INDEX IF NOT EXISTS idx_verifications_tx_hash ON verifications(tx_hash);
	CREATE INDEX IF NOT EXISTS idx_verifications_created ON verifications(created_at, id);

	-- API keys
	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TEXT DEFAULT (datetime('now')),
		last_used_at TEXT,
		revoked_at TEXT
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
func (s *SQLiteStore) CreateVerification(ctx context.Context, v *Verification) error {
	if v.ID == "" {
		v.ID = generateID()
	}
	if v.CreatedAt == "" {
		v.CreatedAt = time.Now().UTC().Format(timeLayout)
	}
	warnings, err := encodeWarnings(v.Warnings)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verifications (id, tx_hash, address, repository, revision, resolved_revision, contract, builder,
			toolchain_version, outcome, stage, error, onchain_hash, built_hash, warnings, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, strings.ToLower(v.TxHash), strings.ToLower(v.Address), v.Repository, v.Revision, v.ResolvedRevision,
		v.Contract, v.Builder, v.ToolchainVersion, v.Outcome, v.Stage, v.Error, v.OnChainHash, v.BuiltHash,
		warnings, v.DurationMS, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting verification: %w", err)
	}
	return nil
}

// GetVerification retrieves a verification by ID
func (s *SQLiteStore) GetVerification(ctx context.Context, id string) (*Verification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+verificationColumns+` FROM verifications WHERE id = ?`, id)
	v, err := scanSQLiteVerification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

// ListVerifications lists verifications, newest first
func (s *SQLiteStore) ListVerifications(ctx context.Context, filter VerificationFilter, pagination PaginationParams) (*PaginatedResult[Verification], error) {
	if err := checkCursor(ctx, s.db, pagination.Cursor, "?1"); err != nil {
		return nil, err
	}
	query, args := listQuery(filter, pagination, func(n int) string { return fmt.Sprintf("?%d", n) })
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Verification
	for rows.Next() {
		v, err := scanSQLiteVerification(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteVerification(row rowScanner) (*Verification, error) {
	var v Verification
	var warnings string
	err := row.Scan(&v.ID, &v.TxHash, &v.Address, &v.Repository, &v.Revision, &v.ResolvedRevision, &v.Contract,
		&v.Builder, &v.ToolchainVersion, &v.Outcome, &v.Stage, &v.Error, &v.OnChainHash, &v.BuiltHash,
		&warnings, &v.DurationMS, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.Warnings = decodeWarnings(warnings)
	return &v, nil
}

// CreateAPIKey creates a new API key
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key, err := generateAPIKey()
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, "INSERT INTO api_keys (id, key_hash, name, created_at) VALUES (?, ?, ?, datetime('now'))",
		generateID(), hashAPIKey(key), name)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates an API key
func (s *SQLiteStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	var ak APIKey
	err := s.db.QueryRowContext(ctx, "SELECT id, key_hash, name, created_at FROM api_keys WHERE key_hash = ? AND revoked_at IS NULL", hashAPIKey(key)).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &ak.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// Update last used
	_, _ = s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = datetime('now') WHERE id = ?", ak.ID)
	return &ak, nil
}

// ListAPIKeys lists all active API keys
func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at, last_used_at FROM api_keys WHERE revoked_at IS NULL ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var lastUsed sql.NullString
		if err := rows.Scan(&k.ID, &k.Name, &k.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			k.LastUsedAt = lastUsed.String
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key
func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = datetime('now') WHERE id = ? AND revoked_at IS NULL", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
