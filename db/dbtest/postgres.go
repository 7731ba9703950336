package dbtest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"signaldesk/db"
)

// Open connects to DATABASE_URL and applies the schema. The test is skipped
// when the variable is empty.
func Open(t testing.TB) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.Migrate(ctx, pool, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

// InsertClient seeds an approved client and removes it when the test ends.
func InsertClient(t testing.TB, pool *pgxpool.Pool) (id, email string) {
	t.Helper()
	ctx := context.Background()
	email = fmt.Sprintf("client+%d@example.com", time.Now().UnixNano())
	err := pool.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash, approved)
		VALUES ('Test', $1, 'x', true)
		RETURNING id
	`, email).Scan(&id)
	if err != nil {
		t.Fatalf("seed client: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, id)
	})
	return id, email
}
