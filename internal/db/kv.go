package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/resume-analyzer/internal/kv"
)

// KVStore implements kv.Store on the kv_entries table
type KVStore struct {
	db *DB
}

// KV returns a kv.Store backed by this database
func (db *DB) KV() *KVStore {
	return &KVStore{db: db}
}

var _ kv.Store = (*KVStore)(nil)

// Insert stores value under key unless the key already exists
func (s *KVStore) Insert(ctx context.Context, key string, value []byte) error {
	tag, err := s.db.pool.Exec(ctx,
		`INSERT INTO kv_entries (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO NOTHING`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return kv.ErrKeyExists
	}
	return nil
}

// Get returns the value stored under key
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.pool.QueryRow(ctx,
		`SELECT value FROM kv_entries WHERE key = $1`,
		key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

// List returns entries whose key starts with prefix, newest first
func (s *KVStore) List(ctx context.Context, prefix string) ([]kv.Entry, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT key, value FROM kv_entries
		 WHERE starts_with(key, $1)
		 ORDER BY created_at DESC, key`,
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s*: %w", prefix, err)
	}
	defer rows.Close()

	var entries []kv.Entry
	for rows.Next() {
		var e kv.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s*: %w", prefix, err)
	}
	return entries, nil
}

// Delete removes key
func (s *KVStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
