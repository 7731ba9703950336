package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals that no client account exists for the identifier.
var ErrNotFound = errors.New("subscription: account not found")

// Repository persists account state. Write methods run inside the caller's transaction.
type Repository interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID string) (Account, error)
	Save(ctx context.Context, tx pgx.Tx, acct Account) error
	Delete(ctx context.Context, tx pgx.Tx, userID string) error
	ListMembers(ctx context.Context, approved bool) ([]Member, error)
	SubscriberEmails(ctx context.Context, plan Plan, now time.Time) ([]string, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GetForUpdate locks the client row for the remainder of the transaction.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, userID string) (Account, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return Account{}, ErrNotFound
	}

	const query = `
		SELECT id, email, name, approved, active, plan, subscription_start, subscription_end
		FROM users
		WHERE id = $1 AND role = 'client'
		FOR UPDATE
	`

	var acct Account
	err := tx.QueryRow(ctx, query, userID).Scan(
		&acct.UserID,
		&acct.Email,
		&acct.Name,
		&acct.Approved,
		&acct.Active,
		&acct.Plan,
		&acct.Start,
		&acct.End,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("subscription: get for update: %w", err)
	}
	return acct, nil
}

func (r *PGRepository) Save(ctx context.Context, tx pgx.Tx, acct Account) error {
	const query = `
		UPDATE users
		SET approved = $2,
		    active = $3,
		    plan = $4,
		    subscription_start = $5,
		    subscription_end = $6,
		    updated_at = now()
		WHERE id = $1 AND role = 'client'
	`

	tag, err := tx.Exec(ctx, query, acct.UserID, acct.Approved, acct.Active, acct.Plan, acct.Start, acct.End)
	if err != nil {
		return fmt.Errorf("subscription: save account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) Delete(ctx context.Context, tx pgx.Tx, userID string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1 AND role = 'client'`, userID)
	if err != nil {
		return fmt.Errorf("subscription: delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMembers returns client accounts filtered by approval, newest first.
func (r *PGRepository) ListMembers(ctx context.Context, approved bool) ([]Member, error) {
	const query = `
		SELECT id, email, name, surname, approved, active, plan, subscription_start, subscription_end, created_at
		FROM users
		WHERE role = 'client' AND approved = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, approved)
	if err != nil {
		return nil, fmt.Errorf("subscription: list members: %w", err)
	}
	defer rows.Close()

	members := make([]Member, 0, 16)
	for rows.Next() {
		var m Member
		if err := rows.Scan(
			&m.UserID,
			&m.Email,
			&m.Name,
			&m.Surname,
			&m.Approved,
			&m.Active,
			&m.Plan,
			&m.Start,
			&m.End,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("subscription: scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("subscription: iterate members: %w", err)
	}
	return members, nil
}

// SubscriberEmails lists the addresses of clients whose plan is currently running.
func (r *PGRepository) SubscriberEmails(ctx context.Context, plan Plan, now time.Time) ([]string, error) {
	const query = `
		SELECT email
		FROM users
		WHERE role = 'client'
		  AND approved
		  AND active
		  AND plan = $1
		  AND subscription_end >= $2
		ORDER BY email
	`

	rows, err := r.pool.Query(ctx, query, plan, now)
	if err != nil {
		return nil, fmt.Errorf("subscription: subscriber emails: %w", err)
	}
	emails, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("subscription: collect emails: %w", err)
	}
	return emails, nil
}
