package signal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"signaldesk/db"
	"signaldesk/subscription"
)

// ErrNotFound signals that the signal does not exist.
var ErrNotFound = errors.New("signal: not found")

// Patch holds the optional column updates of a signal.
type Patch struct {
	Pair       *string
	Entry      *string
	TakeProfit *string
	StopLoss   *string
	Plan       *subscription.Plan
	// Lots replaces every lot when non-nil.
	Lots []Lot
}

// Repository persists signals together with their lots.
type Repository interface {
	InsertTx(ctx context.Context, tx pgx.Tx, s Signal) (Signal, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, id string, p Patch) (Signal, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Signal, error)
	// List returns signals newest first, restricted to plan when it is non-nil.
	List(ctx context.Context, plan *subscription.Plan) ([]Signal, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	q db.Querier
}

func NewRepository(q db.Querier) *PGRepository {
	return &PGRepository{q: q}
}

const signalColumns = `id, pair, entry, take_profit, stop_loss, plan, created_at, updated_at`

func (r *PGRepository) InsertTx(ctx context.Context, tx pgx.Tx, s Signal) (Signal, error) {
	const insertSQL = `
		INSERT INTO signals (pair, entry, take_profit, stop_loss, plan)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + signalColumns

	created, err := scanSignal(tx.QueryRow(ctx, insertSQL, s.Pair, s.Entry, s.TakeProfit, s.StopLoss, s.Plan))
	if err != nil {
		return Signal{}, fmt.Errorf("signal: insert: %w", err)
	}
	if err := insertLots(ctx, tx, created.ID, s.Lots); err != nil {
		return Signal{}, err
	}
	created.Lots = lotsOrEmpty(s.Lots)
	return created, nil
}

func (r *PGRepository) UpdateTx(ctx context.Context, tx pgx.Tx, id string, p Patch) (Signal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Signal{}, ErrNotFound
	}

	const updateSQL = `
		UPDATE signals
		SET pair = COALESCE($2, pair),
		    entry = COALESCE($3, entry),
		    take_profit = COALESCE($4, take_profit),
		    stop_loss = COALESCE($5, stop_loss),
		    plan = COALESCE($6, plan),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + signalColumns

	updated, err := scanSignal(tx.QueryRow(ctx, updateSQL, id, p.Pair, p.Entry, p.TakeProfit, p.StopLoss, p.Plan))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Signal{}, ErrNotFound
		}
		return Signal{}, fmt.Errorf("signal: update: %w", err)
	}

	if p.Lots != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM signal_lots WHERE signal_id = $1`, id); err != nil {
			return Signal{}, fmt.Errorf("signal: clear lots: %w", err)
		}
		if err := insertLots(ctx, tx, id, p.Lots); err != nil {
			return Signal{}, err
		}
		updated.Lots = lotsOrEmpty(p.Lots)
		return updated, nil
	}

	byID, err := loadLots(ctx, tx, []string{id})
	if err != nil {
		return Signal{}, err
	}
	updated.Lots = lotsOrEmpty(byID[id])
	return updated, nil
}

// Delete removes the signal. Its lots go with it through the foreign key cascade.
func (r *PGRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	tag, err := r.q.Exec(ctx, `DELETE FROM signals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("signal: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Signal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Signal{}, ErrNotFound
	}
	s, err := scanSignal(r.q.QueryRow(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Signal{}, ErrNotFound
		}
		return Signal{}, fmt.Errorf("signal: get: %w", err)
	}
	byID, err := loadLots(ctx, r.q, []string{id})
	if err != nil {
		return Signal{}, err
	}
	s.Lots = lotsOrEmpty(byID[id])
	return s, nil
}

func (r *PGRepository) List(ctx context.Context, plan *subscription.Plan) ([]Signal, error) {
	const query = `
		SELECT ` + signalColumns + `
		FROM signals
		WHERE $1::text IS NULL OR plan = $1
		ORDER BY created_at DESC, id
	`
	rows, err := r.q.Query(ctx, query, plan)
	if err != nil {
		return nil, fmt.Errorf("signal: list: %w", err)
	}
	signals, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Signal, error) {
		return scanSignal(row)
	})
	if err != nil {
		return nil, fmt.Errorf("signal: scan list: %w", err)
	}
	if len(signals) == 0 {
		return []Signal{}, nil
	}

	ids := make([]string, len(signals))
	for i, s := range signals {
		ids[i] = s.ID
	}
	byID, err := loadLots(ctx, r.q, ids)
	if err != nil {
		return nil, err
	}
	for i := range signals {
		signals[i].Lots = lotsOrEmpty(byID[signals[i].ID])
	}
	return signals, nil
}

func insertLots(ctx context.Context, q db.Querier, signalID string, lots []Lot) error {
	const insertSQL = `
		INSERT INTO signal_lots (signal_id, position, lot_size, win_amount, loss_amount)
		VALUES ($1, $2, $3, $4, $5)
	`
	for i, lot := range lots {
		if _, err := q.Exec(ctx, insertSQL, signalID, i+1, lot.LotSize, lot.WinAmount, lot.LossAmount); err != nil {
			return fmt.Errorf("signal: insert lot: %w", err)
		}
	}
	return nil
}

func loadLots(ctx context.Context, q db.Querier, ids []string) (map[string][]Lot, error) {
	const query = `
		SELECT signal_id, lot_size, win_amount, loss_amount
		FROM signal_lots
		WHERE signal_id = ANY($1::uuid[])
		ORDER BY signal_id, position
	`
	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("signal: load lots: %w", err)
	}
	defer rows.Close()

	byID := make(map[string][]Lot, len(ids))
	for rows.Next() {
		var (
			signalID string
			lot      Lot
		)
		if err := rows.Scan(&signalID, &lot.LotSize, &lot.WinAmount, &lot.LossAmount); err != nil {
			return nil, fmt.Errorf("signal: scan lot: %w", err)
		}
		byID[signalID] = append(byID[signalID], lot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("signal: iterate lots: %w", err)
	}
	return byID, nil
}

func scanSignal(row pgx.Row) (Signal, error) {
	var s Signal
	err := row.Scan(&s.ID, &s.Pair, &s.Entry, &s.TakeProfit, &s.StopLoss, &s.Plan, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func lotsOrEmpty(lots []Lot) []Lot {
	if lots == nil {
		return []Lot{}
	}
	return lots
}
