package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"
)

// SetMetadata upserts a key-value pair in the store_metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	return setMetadata(ctx, s.conn(), key, value)
}

func setMetadata(ctx context.Context, c conn, key, value string) error {
	_, err := c.exec(ctx,
		`INSERT INTO store_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return access("set metadata", err)
}

// setMetadataMax stores n under key unless a larger number is stored.
func setMetadataMax(ctx context.Context, c conn, key string, n int64) error {
	cur, err := getMetadata(ctx, c, key)
	if err != nil {
		return err
	}
	if cur != "" {
		if old, err := strconv.ParseInt(cur, 10, 64); err == nil && old >= n {
			return nil
		}
	}
	return setMetadata(ctx, c, key, strconv.FormatInt(n, 10))
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	return getMetadata(ctx, s.conn(), key)
}

func getMetadata(ctx context.Context, c conn, key string) (string, error) {
	var value string
	err := c.queryRow(ctx, `SELECT value FROM store_metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, access("get metadata", err)
}

// GetImportedFileHash returns the SHA-256 recorded for an imported file.
// Returns empty string and nil error if the file was never imported.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.conn().queryRow(ctx, `SELECT sha256 FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, access("get imported file hash", err)
}

// SetImportedFileHash records the SHA-256 of an imported file.
func (s *Store) SetImportedFileHash(ctx context.Context, path, hash string) error {
	_, err := s.conn().exec(ctx,
		`INSERT INTO imported_files (path, sha256, imported_ms) VALUES (?, ?, ?)
		 ON CONFLICT (path) DO UPDATE SET sha256 = excluded.sha256, imported_ms = excluded.imported_ms`,
		path, hash, ms(time.Now()),
	)
	return access("set imported file hash", err)
}
