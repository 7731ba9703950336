package reset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTokenNotFound signals that no outstanding reset matches the token hash.
var ErrTokenNotFound = errors.New("reset: token not found")

// Entry is the stored half of a reset token. The token itself is never persisted.
type Entry struct {
	UserID    string
	TokenHash string
	ExpiresAt time.Time
}

// Repository holds at most one outstanding reset per identity.
type Repository interface {
	// Upsert replaces any earlier reset of the same identity.
	Upsert(ctx context.Context, entry Entry) error
	// TakeTx deletes and returns the entry for tokenHash inside tx.
	TakeTx(ctx context.Context, tx pgx.Tx, tokenHash string) (Entry, error)
	// DeleteExpired purges entries whose expiry is before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Upsert(ctx context.Context, entry Entry) error {
	const upsertSQL = `
		INSERT INTO password_resets (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET token_hash = EXCLUDED.token_hash,
		    expires_at = EXCLUDED.expires_at,
		    created_at = now()
	`
	if _, err := r.pool.Exec(ctx, upsertSQL, entry.UserID, entry.TokenHash, entry.ExpiresAt); err != nil {
		return fmt.Errorf("reset: upsert: %w", err)
	}
	return nil
}

func (r *PGRepository) TakeTx(ctx context.Context, tx pgx.Tx, tokenHash string) (Entry, error) {
	const takeSQL = `
		DELETE FROM password_resets
		WHERE token_hash = $1
		RETURNING user_id, token_hash, expires_at
	`
	var entry Entry
	err := tx.QueryRow(ctx, takeSQL, tokenHash).Scan(&entry.UserID, &entry.TokenHash, &entry.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrTokenNotFound
		}
		return Entry{}, fmt.Errorf("reset: take: %w", err)
	}
	return entry, nil
}

func (r *PGRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM password_resets WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("reset: delete expired: %w", err)
	}
	return tag.RowsAffected(), nil
}
