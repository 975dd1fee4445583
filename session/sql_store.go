package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	sqlCreateTable = `CREATE TABLE IF NOT EXISTS credential_sessions (
	principal_id TEXT PRIMARY KEY,
	blob BYTEA NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

	sqlSelectSession   = `SELECT blob FROM credential_sessions WHERE principal_id = $1 AND expires_at > $2`
	sqlSelectForUpdate = sqlSelectSession + ` FOR UPDATE`

	sqlUpsertSession = `INSERT INTO credential_sessions (principal_id, blob, expires_at, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (principal_id) DO UPDATE
SET blob = EXCLUDED.blob, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`

	sqlUpdateSession = `UPDATE credential_sessions SET blob = $2, expires_at = $3, updated_at = $4 WHERE principal_id = $1`
	sqlDeleteSession = `DELETE FROM credential_sessions WHERE principal_id = $1`
	sqlDeleteExpired = `DELETE FROM credential_sessions WHERE expires_at <= $1`
)

// SQLStore is a server-context session variant over database/sql. It is written
// against PostgreSQL; register the driver with
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
//
// and open the pool with sql.Open("pgx", dsn).
type SQLStore struct {
	db       *sql.DB
	codec    *Codec
	lifetime LifetimeFunc
	now      func() time.Time
}

// NewSQLStore creates a [SQLStore].
func NewSQLStore(db *sql.DB, codec *Codec, lifetime LifetimeFunc) *SQLStore {
	if lifetime == nil {
		lifetime = FixedLifetime(7 * 24 * time.Hour)
	}
	return &SQLStore{
		db:       db,
		codec:    codec,
		lifetime: lifetime,
		now:      time.Now,
	}
}

// EnsureSchema creates the sessions table when missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqlCreateTable); err != nil {
		return fmt.Errorf("%w: create schema: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Get returns the unexpired session for principalID.
func (s *SQLStore) Get(ctx context.Context, principalID string) (*Session, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, sqlSelectSession, principalID, s.now().UTC()).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	sess, err := s.codec.Open(principalID, blob)
	if err != nil {
		return nil, notFoundCorrupt(err)
	}
	return sess, nil
}

// Create upserts a fresh session for principalID.
func (s *SQLStore) Create(ctx context.Context, principalID string, pair CredentialPair) error {
	now := s.now().UTC()
	blob, expiresAt, err := s.seal(&Session{PrincipalID: principalID, Pair: pair, CreatedAt: now}, now)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, sqlUpsertSession, principalID, blob, expiresAt, now); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Replace swaps the pair inside one transaction holding the row lock.
func (s *SQLStore) Replace(ctx context.Context, principalID string, pair CredentialPair) (err error) {
	if !pair.Valid() {
		return ErrInvalidPair
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrBackendUnavailable, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now().UTC()
	var current []byte
	if err = tx.QueryRowContext(ctx, sqlSelectForUpdate, principalID, now).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	existing, err := s.codec.Open(principalID, current)
	if err != nil {
		return notFoundCorrupt(err)
	}

	blob, expiresAt, err := s.seal(&Session{
		PrincipalID: principalID,
		Pair:        pair,
		CreatedAt:   existing.CreatedAt,
	}, now)
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, sqlUpdateSession, principalID, blob, expiresAt, now); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Destroy deletes the row. Missing rows are not an error.
func (s *SQLStore) Destroy(ctx context.Context, principalID string) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteSession, principalID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// DeleteExpired removes rows past their refresh lifetime and returns how many
// were deleted. Run it periodically; Get already ignores expired rows.
func (s *SQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqlDeleteExpired, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n, nil
}

func (s *SQLStore) seal(sess *Session, now time.Time) ([]byte, time.Time, error) {
	ttl := s.lifetime(sess.Pair)
	if ttl <= 0 {
		return nil, time.Time{}, fmt.Errorf("%w: refresh credential already expired", ErrInvalidPair)
	}
	blob, err := s.codec.Seal(sess)
	if err != nil {
		return nil, time.Time{}, err
	}
	return blob, now.Add(ttl), nil
}
