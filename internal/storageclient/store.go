// Package storageclient implements the client-side embedded cache: a
// durable mirror of server-visible vault/item state plus a pending-change
// queue and per-vault sync cursors, backed by a single-writer SQLite file.
package storageclient

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store owns the embedded cache database. Per spec.md §5 the client treats
// it as single-writer; WAL mode lets concurrent reads proceed without
// blocking on an in-flight write.
type Store struct {
	write *sql.DB
	read  *sql.DB
}

// Open creates (or attaches to) the cache database at path and ensures its
// schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	write, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	write.SetMaxOpenConns(1)

	if _, err := write.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		write.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	read, err := sql.Open("sqlite", path)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open cache db (read): %w", err)
	}

	s := &Store{write: write, read: read}
	if err := s.migrate(ctx); err != nil {
		write.Close()
		read.Close()
		return nil, err
	}
	return s, nil
}

// Close releases both underlying SQLite handles.
func (s *Store) Close() error {
	rerr := s.read.Close()
	werr := s.write.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS storages (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	server_url TEXT NOT NULL DEFAULT '',
	pinned_fingerprint BLOB,
	account_subject TEXT NOT NULL DEFAULT '',
	personal_vaults_enable INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS vaults (
	id TEXT PRIMARY KEY,
	storage_id TEXT NOT NULL REFERENCES storages(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	slug TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '[]',
	kind TEXT NOT NULL,
	encryption TEXT NOT NULL,
	wrapped_key BLOB,
	unwrapped_key BLOB,
	cache_policy TEXT NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0,
	row_version INTEGER NOT NULL DEFAULT 0,
	last_synced_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	UNIQUE(storage_id, slug)
);

CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	vault_id TEXT NOT NULL REFERENCES vaults(id) ON DELETE CASCADE,
	path TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	type_id TEXT NOT NULL DEFAULT '',
	payload_enc BLOB,
	payload_checksum BLOB,
	version INTEGER NOT NULL DEFAULT 0,
	row_version INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	deleted_at TIMESTAMP,
	deleted_by TEXT,
	file_id TEXT NOT NULL DEFAULT '',
	upload_state TEXT NOT NULL DEFAULT '',
	local_rev INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE(vault_id, path)
);
CREATE INDEX IF NOT EXISTS idx_items_vault ON items(vault_id);

CREATE TABLE IF NOT EXISTS item_history (
	item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	version INTEGER NOT NULL,
	vault_id TEXT NOT NULL,
	payload_enc BLOB,
	kind TEXT NOT NULL,
	author_id TEXT,
	author_device TEXT,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (item_id, version)
);

CREATE TABLE IF NOT EXISTS pending_changes (
	item_id TEXT PRIMARY KEY,
	vault_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload_enc BLOB,
	base_seq INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_cursors (
	storage_id TEXT NOT NULL,
	vault_id TEXT NOT NULL,
	last_seq INTEGER NOT NULL DEFAULT 0,
	last_synced_at TIMESTAMP,
	PRIMARY KEY (storage_id, vault_id)
);
`
	_, err := s.write.ExecContext(ctx, schema)
	return err
}
