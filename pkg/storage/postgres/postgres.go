// Package postgres provides a PostgreSQL implementation of storage.Store.
// It uses pgx/v5 for connection pooling and stores file content as BYTEA
// keyed by (session_id, path).
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jkoenig/runbox/pkg/storage"
)

// Store is a PostgreSQL-backed session file store.
type Store struct {
	pool        *pgxpool.Pool
	maxFileSize int64
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool, maxFileSize: cfg.MaxFileSize}
	if s.maxFileSize == 0 {
		s.maxFileSize = storage.DefaultMaxFileSize
	}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// Read returns the content of path under the session.
func (s *Store) Read(ctx context.Context, sessionID, path string) ([]byte, error) {
	if err := storage.ValidatePath(path); err != nil {
		return nil, err
	}

	var content []byte
	err := s.pool.QueryRow(ctx,
		"SELECT content FROM session_files WHERE session_id = $1 AND path = $2",
		sessionID, path,
	).Scan(&content)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying file: %w", err)
	}
	return content, nil
}

// Write upserts content at path under the session.
func (s *Store) Write(ctx context.Context, sessionID, path string, content []byte) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	if int64(len(content)) > s.maxFileSize {
		return storage.ErrTooLarge
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_files (session_id, path, content, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_id, path)
		DO UPDATE SET content = EXCLUDED.content, updated_at = now()
	`, sessionID, path, content)
	if err != nil {
		return fmt.Errorf("upserting file: %w", err)
	}
	return nil
}

// List returns the session's paths matching the prefix, sorted.
func (s *Store) List(ctx context.Context, sessionID, prefix string) ([]string, error) {
	// starts_with avoids LIKE wildcard interpretation of _ and % in paths.
	rows, err := s.pool.Query(ctx, `
		SELECT path FROM session_files
		WHERE session_id = $1 AND starts_with(path, $2)
		ORDER BY path
	`, sessionID, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating files: %w", err)
	}
	return paths, nil
}

// Delete removes path under the session.
func (s *Store) Delete(ctx context.Context, sessionID, path string) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}

	result, err := s.pool.Exec(ctx,
		"DELETE FROM session_files WHERE session_id = $1 AND path = $2",
		sessionID, path,
	)
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
