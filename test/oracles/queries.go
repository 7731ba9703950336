package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that returns rows only when an invariant is broken.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_plan_end_paired",
			SQL: `SELECT id, plan, subscription_end FROM users
                  WHERE (plan IS NULL) <> (subscription_end IS NULL)`,
		},
		{
			Name: "O2_active_requires_approval",
			SQL:  `SELECT id FROM users WHERE active AND NOT approved`,
		},
		{
			Name: "O3_admin_never_subscribed",
			SQL:  `SELECT id FROM users WHERE role = 'admin' AND plan IS NOT NULL`,
		},
		{
			Name: "O4_paid_window_term",
			SQL: `SELECT u.id, u.subscription_start, u.subscription_end FROM users u
                  WHERE u.plan IS NOT NULL
                    AND EXISTS (SELECT 1 FROM payment_transactions t WHERE t.user_id = u.id)
                    AND (u.subscription_start IS NULL
                         OR u.subscription_end - u.subscription_start <> interval '30 days')`,
		},
		{
			Name: "O5_lot_count",
			SQL: `SELECT s.id, COUNT(l.id) FROM signals s
                  LEFT JOIN signal_lots l ON l.signal_id = s.id
                  GROUP BY s.id HAVING COUNT(l.id) > 3`,
		},
		{
			Name: "O6_single_reset_token",
			SQL: `SELECT user_id, COUNT(*) FROM password_resets
                  GROUP BY user_id HAVING COUNT(*) > 1`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
