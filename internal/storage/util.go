package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// APIKeyPrefix is the prefix for all API keys
const APIKeyPrefix = "dp_key_"

// timeLayout sorts lexicographically in SQLite TEXT columns.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

// generateAPIKey generates a new API key
func generateAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(b), nil
}

// hashAPIKey hashes an API key for storage
func hashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	default:
		return limit
	}
}

func encodeWarnings(w []string) (string, error) {
	if len(w) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encoding warnings: %w", err)
	}
	return string(b), nil
}

func decodeWarnings(s string) []string {
	var w []string
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return nil
	}
	if len(w) == 0 {
		return nil
	}
	return w
}

// listQuery builds the filtered, cursor-paginated verification listing.
// placeholder renders the n-th (1-based) bind parameter.
func listQuery(filter VerificationFilter, pagination PaginationParams, placeholder func(n int) string) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, placeholder(len(args))))
	}

	if filter.Address != "" {
		add("address = %s", strings.ToLower(filter.Address))
	}
	if filter.TxHash != "" {
		add("tx_hash = %s", strings.ToLower(filter.TxHash))
	}
	if filter.Outcome != "" {
		add("outcome = %s", filter.Outcome)
	}
	if pagination.Cursor != "" {
		args = append(args, pagination.Cursor)
		n := placeholder(len(args))
		conds = append(conds, fmt.Sprintf(
			"(created_at < (SELECT created_at FROM verifications WHERE id = %[1]s) OR "+
				"(created_at = (SELECT created_at FROM verifications WHERE id = %[1]s) AND id < %[1]s))", n))
	}

	query := `SELECT ` + verificationColumns + ` FROM verifications`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, pageSize(pagination.Limit)+1)
	query += " ORDER BY created_at DESC, id DESC LIMIT " + placeholder(len(args))
	return query, args
}

const verificationColumns = `id, tx_hash, address, repository, revision, resolved_revision, contract, builder,
	toolchain_version, outcome, stage, error, onchain_hash, built_hash, warnings, duration_ms, created_at`

func validateCursor(cursor string) error {
	if cursor == "" {
		return nil
	}
	if _, err := uuid.Parse(cursor); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidCursor, cursor)
	}
	return nil
}

// checkCursor rejects cursors that are malformed or name no record, since
// either would silently yield an empty page. placeholder binds the cursor.
func checkCursor(ctx context.Context, db *sql.DB, cursor, placeholder string) error {
	if err := validateCursor(cursor); err != nil || cursor == "" {
		return err
	}
	var exists bool
	err := db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM verifications WHERE id = "+placeholder+")", cursor).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrInvalidCursor, cursor)
	}
	return nil
}

// paginate trims the extra row fetched to detect further pages.
func paginate(items []Verification, limit int) *PaginatedResult[Verification] {
	limit = pageSize(limit)
	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	result := &PaginatedResult[Verification]{Data: items, HasMore: hasMore}
	if hasMore && len(items) > 0 {
		result.NextCursor = items[len(items)-1].ID
	}
	return result
}
