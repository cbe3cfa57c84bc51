// Package pgstore implements sessions.Store on a Postgres table through a
// pgx connection pool. The table is created on startup if missing.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/recordsportal/sessions"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	queryTimeout = 10 * time.Second
)

const migration = `
CREATE TABLE IF NOT EXISTS portal_sessions (
    token text PRIMARY KEY,
    principal text NOT NULL,
    created_at timestamptz NOT NULL,
    last_activity_at timestamptz NOT NULL,
    expires_at timestamptz
);

CREATE INDEX IF NOT EXISTS portal_sessions_expires_at_idx
ON portal_sessions (expires_at);
`

type Store struct {
	pool *pgxpool.Pool
}

// New opens a pool for databaseURL, pings it and applies the migration.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	s := NewFromPool(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewFromPool wraps an existing pool. The store closes it in Close.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the sessions table and its index if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if _, err := s.pool.Exec(queryCtx, migration); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Get(ctx context.Context, token string) (*sessions.Session, error) {
	query := `SELECT token, principal, created_at, last_activity_at
		FROM portal_sessions WHERE token = $1`
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rec sessions.Session
	err := s.pool.QueryRow(queryCtx, query, token).Scan(&rec.Token, &rec.Principal, &rec.CreatedAt, &rec.LastActivityAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sessions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get: %w", err)
	}
	return &rec, nil
}

// Put upserts the record. created_at is written only on insert, so a
// replacement can never move a session's creation time.
func (s *Store) Put(ctx context.Context, rec sessions.Session, expiresAt time.Time) error {
	if rec.Token == "" || rec.Principal == "" {
		return errors.New("pgstore: missing token or principal")
	}
	query := `INSERT INTO portal_sessions (token, principal, created_at, last_activity_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token) DO UPDATE
		SET principal = EXCLUDED.principal,
			last_activity_at = EXCLUDED.last_activity_at,
			expires_at = EXCLUDED.expires_at`

	var exp *time.Time
	if !expiresAt.IsZero() {
		exp = &expiresAt
	}
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if _, err := s.pool.Exec(queryCtx, query, rec.Token, rec.Principal, rec.CreatedAt, rec.LastActivityAt, exp); err != nil {
		return fmt.Errorf("pgstore: put: %w", err)
	}
	return nil
}

// Update rewrites an existing row and reports ErrNotFound when none matched.
func (s *Store) Update(ctx context.Context, rec sessions.Session, expiresAt time.Time) error {
	query := `UPDATE portal_sessions
		SET principal = $2, last_activity_at = $3, expires_at = $4
		WHERE token = $1`

	var exp *time.Time
	if !expiresAt.IsZero() {
		exp = &expiresAt
	}
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := s.pool.Exec(queryCtx, query, rec.Token, rec.Principal, rec.LastActivityAt, exp)
	if err != nil {
		return fmt.Errorf("pgstore: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sessions.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, token string) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if _, err := s.pool.Exec(queryCtx, "DELETE FROM portal_sessions WHERE token = $1", token); err != nil {
		return fmt.Errorf("pgstore: delete: %w", err)
	}
	return nil
}

// Scan reads every row before invoking fn so that fn's own queries never
// wait on the connection held by the result set.
func (s *Store) Scan(ctx context.Context, fn func(sessions.Session) error) error {
	query := `SELECT token, principal, created_at, last_activity_at FROM portal_sessions`
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(queryCtx, query)
	if err != nil {
		return fmt.Errorf("pgstore: scan: %w", err)
	}
	var all []sessions.Session
	for rows.Next() {
		var rec sessions.Session
		if err := rows.Scan(&rec.Token, &rec.Principal, &rec.CreatedAt, &rec.LastActivityAt); err != nil {
			rows.Close()
			return fmt.Errorf("pgstore: scan row: %w", err)
		}
		all = append(all, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("pgstore: scan: %w", err)
	}

	for _, rec := range all {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// DeleteExpiredBefore removes every row whose expiry hint lies before t and
// returns how many were removed. It lets operators reclaim rows in bulk
// without loading them.
func (s *Store) DeleteExpiredBefore(ctx context.Context, t time.Time) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := s.pool.Exec(queryCtx, "DELETE FROM portal_sessions WHERE expires_at IS NOT NULL AND expires_at < $1", t)
	if err != nil {
		return 0, fmt.Errorf("pgstore: delete expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ sessions.Store = (*Store)(nil)
