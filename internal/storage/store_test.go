package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// runStoreTests exercises the Store contract against a migrated store.
func runStoreTests(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("CreateAndGetVerification", func(t *testing.T) {
		v := &Verification{
			TxHash:           "0xABCDEF0000000000000000000000000000000000000000000000000000000001",
			Address:          "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			Repository:       "https://example.com/contracts.git",
			Revision:         "v1.0.0",
			ResolvedRevision: "9fceb02d0ae598e95dc970b74767f19372d61af8",
			Contract:         "Token",
			Builder:          "foundry",
			ToolchainVersion: "forge 1.0.0",
			Outcome:          "mismatch",
			OnChainHash:      "0x01",
			BuiltHash:        "0x02",
			Warnings:         []string{"init code contains SELFDESTRUCT at offset 10"},
			DurationMS:       1234,
		}
		if err := store.CreateVerification(ctx, v); err != nil {
			t.Fatalf("CreateVerification() error = %v", err)
		}
		if v.ID == "" || v.CreatedAt == "" {
			t.Fatalf("CreateVerification() did not assign ID/CreatedAt: %+v", v)
		}

		got, err := store.GetVerification(ctx, v.ID)
		if err != nil {
			t.Fatalf("GetVerification() error = %v", err)
		}
		if got.Address != strings.ToLower(v.Address) {
			t.Errorf("Address = %v, want lowercase %v", got.Address, v.Address)
		}
		if got.TxHash != strings.ToLower(v.TxHash) {
			t.Errorf("TxHash = %v, want lowercase", got.TxHash)
		}
		if got.Outcome != "mismatch" || got.Contract != "Token" || got.Builder != "foundry" {
			t.Errorf("GetVerification() = %+v", got)
		}
		if got.ResolvedRevision != v.ResolvedRevision || got.ToolchainVersion != "forge 1.0.0" {
			t.Errorf("revision/toolchain not persisted: %+v", got)
		}
		if len(got.Warnings) != 1 || got.Warnings[0] != v.Warnings[0] {
			t.Errorf("Warnings = %v, want %v", got.Warnings, v.Warnings)
		}
		if got.DurationMS != 1234 {
			t.Errorf("DurationMS = %d, want 1234", got.DurationMS)
		}
		if got.CreatedAt != v.CreatedAt {
			t.Errorf("CreatedAt = %q, want %q", got.CreatedAt, v.CreatedAt)
		}
	})

	t.Run("GetVerificationNotFound", func(t *testing.T) {
		_, err := store.GetVerification(ctx, "00000000-0000-0000-0000-000000000000")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("GetVerification() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("ListVerificationsPaginated", func(t *testing.T) {
		addr := "0x00000000000000000000000000000000000000aa"
		base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			outcome := "match"
			if i%2 == 1 {
				outcome = "not_found"
			}
			v := &Verification{
				TxHash:    fmt.Sprintf("0x%064x", i),
				Address:   addr,
				Contract:  "Paged",
				Outcome:   outcome,
				CreatedAt: base.Add(time.Duration(i) * time.Minute).Format(timeLayout),
			}
			if err := store.CreateVerification(ctx, v); err != nil {
				t.Fatalf("CreateVerification() error = %v", err)
			}
		}

		filter := VerificationFilter{Address: "0x00000000000000000000000000000000000000AA"}
		page1, err := store.ListVerifications(ctx, filter, PaginationParams{Limit: 2})
		if err != nil {
			t.Fatalf("ListVerifications() error = %v", err)
		}
		if len(page1.Data) != 2 || !page1.HasMore || page1.NextCursor == "" {
			t.Fatalf("page1 = %+v", page1)
		}
		if page1.Data[0].TxHash != fmt.Sprintf("0x%064x", 4) {
			t.Errorf("newest first: got %s", page1.Data[0].TxHash)
		}

		var seen []string
		for _, v := range page1.Data {
			seen = append(seen, v.TxHash)
		}
		cursor := page1.NextCursor
		for cursor != "" {
			page, err := store.ListVerifications(ctx, filter, PaginationParams{Limit: 2, Cursor: cursor})
			if err != nil {
				t.Fatalf("ListVerifications() error = %v", err)
			}
			for _, v := range page.Data {
				seen = append(seen, v.TxHash)
			}
			cursor = page.NextCursor
		}
		if len(seen) != 5 {
			t.Fatalf("paged through %d records, want 5: %v", len(seen), seen)
		}
		for i, h := range seen {
			if want := fmt.Sprintf("0x%064x", 4-i); h != want {
				t.Errorf("seen[%d] = %s, want %s", i, h, want)
			}
		}

		notFound, err := store.ListVerifications(ctx, VerificationFilter{Address: addr, Outcome: "not_found"}, PaginationParams{})
		if err != nil {
			t.Fatalf("ListVerifications() error = %v", err)
		}
		if len(notFound.Data) != 2 || notFound.HasMore {
			t.Errorf("outcome filter returned %d records", len(notFound.Data))
		}

		byTx, err := store.ListVerifications(ctx, VerificationFilter{TxHash: fmt.Sprintf("0x%064x", 3)}, PaginationParams{})
		if err != nil {
			t.Fatalf("ListVerifications() error = %v", err)
		}
		if len(byTx.Data) != 1 {
			t.Errorf("tx filter returned %d records", len(byTx.Data))
		}
	})

	t.Run("ListVerificationsInvalidCursor", func(t *testing.T) {
		for _, cursor := range []string{"not-a-cursor", "3f2a9c1e-0000-4000-8000-000000000000"} {
			_, err := store.ListVerifications(ctx, VerificationFilter{}, PaginationParams{Cursor: cursor})
			if !errors.Is(err, ErrInvalidCursor) {
				t.Errorf("ListVerifications(cursor %q) error = %v, want ErrInvalidCursor", cursor, err)
			}
		}
	})

	t.Run("APIKeys", func(t *testing.T) {
		key, err := store.CreateAPIKey(ctx, "ci")
		if err != nil {
			t.Fatalf("CreateAPIKey() error = %v", err)
		}
		if !strings.HasPrefix(key, APIKeyPrefix) {
			t.Errorf("key %q lacks prefix %q", key, APIKeyPrefix)
		}

		apiKey, err := store.ValidateAPIKey(ctx, key)
		if err != nil {
			t.Fatalf("ValidateAPIKey() error = %v", err)
		}
		if apiKey.Name != "ci" {
			t.Errorf("ValidateAPIKey().Name = %v, want ci", apiKey.Name)
		}

		if _, err := store.ValidateAPIKey(ctx, "invalid-key"); !errors.Is(err, ErrNotFound) {
			t.Errorf("ValidateAPIKey(invalid) error = %v, want ErrNotFound", err)
		}

		keys, err := store.ListAPIKeys(ctx)
		if err != nil {
			t.Fatalf("ListAPIKeys() error = %v", err)
		}
		found := false
		for _, k := range keys {
			if k.ID == apiKey.ID {
				found = true
			}
		}
		if !found {
			t.Errorf("ListAPIKeys() missing %s", apiKey.ID)
		}

		if err := store.RevokeAPIKey(ctx, apiKey.ID); err != nil {
			t.Fatalf("RevokeAPIKey() error = %v", err)
		}
		if _, err := store.ValidateAPIKey(ctx, key); !errors.Is(err, ErrNotFound) {
			t.Errorf("revoked key still valid: %v", err)
		}
		if err := store.RevokeAPIKey(ctx, apiKey.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("second RevokeAPIKey() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := store.Ping(ctx); err != nil {
			t.Errorf("Ping() error = %v", err)
		}
	})
}
