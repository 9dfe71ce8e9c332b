// Package idtag implements the optional database-backed idTag sources
// (spec §3 "idTagsFile" vs database-backed pools). Off by default
// (config.IdTagSource == "file"); enabled by setting idTagSource to
// "postgres" or "spanner". Store is the common interface both backends
// satisfy; NewStore (factory.go) picks between them the way the teacher's
// internal/reputation/factory.go picks between its sqlite and spanner
// wallets.
package idtag

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Store is the idTag pool abstraction a station template's resolver talks
// to, regardless of backend: load the configured tags, and record each
// authorize/start-transaction outcome against one.
type Store interface {
	LoadIdTags(ctx context.Context) ([]string, error)
	RecordUsage(ctx context.Context, tag, stationHashID, outcome string) error
	Close() error
}

// PostgresStore wraps a Postgres connection serving the id_tags table.
// Grounded on the teacher's internal/database/supabase.go shape (a struct
// wrapping one driver connection, one method per table operation), adapted
// from Supabase's REST client to plain database/sql + lib/pq per DESIGN.md's
// dropped-dependency note.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against dsn. The id_tags table is
// expected to carry at minimum an id_tag text column.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("idtag: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("idtag: ping: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (r *PostgresStore) Close() error {
	return r.db.Close()
}

// LoadIdTags returns every configured id tag, in insertion order, the same
// shape config.LoadIdTagsFile returns so callers are source-agnostic.
func (r *PostgresStore) LoadIdTags(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id_tag FROM id_tags ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("idtag: query id_tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("idtag: scan id_tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// RecordUsage appends an authorize/start-transaction outcome for the tag,
// one of this backend's write paths (the file source is read-only).
func (r *PostgresStore) RecordUsage(ctx context.Context, tag, stationHashID, outcome string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO id_tag_usage (id_tag, station_hash_id, outcome, used_at) VALUES ($1, $2, $3, now())`,
		tag, stationHashID, outcome,
	)
	if err != nil {
		return fmt.Errorf("idtag: record usage: %w", err)
	}
	return nil
}
