package collection

import (
	"context"
	"fmt"
)

// AutoMigrate creates the collection schema. It is safe to run repeatedly.
func AutoMigrate(ctx context.Context, db DB) error {
	stmts := []string{
		`
      CREATE TABLE IF NOT EXISTS collections (
          id               TEXT PRIMARY KEY,
          kind             TEXT NOT NULL CHECK (kind IN ('playlist', 'watchlist')),
          name             TEXT NOT NULL,
          description      TEXT NOT NULL DEFAULT '',
          owner_id         TEXT NOT NULL,
          is_public        BOOLEAN NOT NULL DEFAULT TRUE,
          share_code       TEXT UNIQUE,
          share_created_at TIMESTAMPTZ,
          cover_url        TEXT NOT NULL DEFAULT '',
          created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
          updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
      )`,
		`CREATE INDEX IF NOT EXISTS idx_collections_owner ON collections(owner_id)`,
		// Position uniqueness is deferred so compaction and reorder can shift
		// many rows in one statement.
		`
      CREATE TABLE IF NOT EXISTS items (
          id           TEXT PRIMARY KEY,
          collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
          external_ref TEXT NOT NULL,
          position     INT NOT NULL CHECK (position >= 0),
          added_by     TEXT NOT NULL,
          added_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
          CONSTRAINT items_collection_ref_key UNIQUE (collection_id, external_ref),
          CONSTRAINT items_collection_position_key UNIQUE (collection_id, position) DEFERRABLE INITIALLY DEFERRED
      )`,
		`
      CREATE TABLE IF NOT EXISTS collaborators (
          collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
          user_id       TEXT NOT NULL,
          can_edit      BOOLEAN NOT NULL DEFAULT FALSE,
          added_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
          PRIMARY KEY (collection_id, user_id)
      )`,
		`CREATE INDEX IF NOT EXISTS idx_collaborators_user ON collaborators(user_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate collections: %w", err)
		}
	}
	return nil
}
