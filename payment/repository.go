package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"signaldesk/db"
	"signaldesk/subscription"
)

// ErrDuplicateReference signals a reference that was already processed.
var ErrDuplicateReference = errors.New("payment: reference already processed")

// Transaction is one processed payment.
type Transaction struct {
	Reference   string
	UserID      string
	Provider    string
	Plan        subscription.Plan
	Amount      int64
	ProcessedAt time.Time
}

// Repository records processed payments.
type Repository interface {
	InsertProcessedTx(ctx context.Context, tx pgx.Tx, t Transaction) error
	ListByUser(ctx context.Context, userID string) ([]Transaction, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	q db.Querier
}

func NewRepository(q db.Querier) *PGRepository {
	return &PGRepository{q: q}
}

// InsertProcessedTx claims the reference inside tx. The primary key makes a
// replay fail with ErrDuplicateReference.
func (r *PGRepository) InsertProcessedTx(ctx context.Context, tx pgx.Tx, t Transaction) error {
	const insertSQL = `
		INSERT INTO payment_transactions (reference, user_id, provider, plan, amount, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := tx.Exec(ctx, insertSQL, t.Reference, t.UserID, t.Provider, t.Plan, t.Amount, t.ProcessedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateReference
		}
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: no identity %s", ErrUnknownReference, t.UserID)
		}
		return fmt.Errorf("payment: insert transaction: %w", err)
	}
	return nil
}

func (r *PGRepository) ListByUser(ctx context.Context, userID string) ([]Transaction, error) {
	const query = `
		SELECT reference, user_id, provider, plan, amount, processed_at
		FROM payment_transactions
		WHERE user_id = $1
		ORDER BY processed_at DESC
	`
	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("payment: list transactions: %w", err)
	}
	txs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Transaction, error) {
		var t Transaction
		err := row.Scan(&t.Reference, &t.UserID, &t.Provider, &t.Plan, &t.Amount, &t.ProcessedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("payment: scan transactions: %w", err)
	}
	return txs, nil
}
