package infra

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Harness is a migrated database shared by the tests of one package.
type Harness struct {
	Pool *pgxpool.Pool

	container *PGContainer
	teardown  func(context.Context) error
}

// NewHarness starts or reuses a database and applies the schema. The test is
// skipped when neither Docker nor STRESS_TEST_PG_DSN is available.
func NewHarness(ctx context.Context, t testing.TB) *Harness {
	t.Helper()

	if os.Getenv(DSNEnv) == "" && !DockerAvailable(ctx) {
		t.Skipf("docker not available and %s not set", DSNEnv)
	}

	pgC, dsn, err := StartPostgres16(ctx, "")
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}

	pool, teardown, err := ApplyMigrations(ctx, dsn, pgC.Shared())
	if err != nil {
		_ = pgC.Terminate(context.Background())
		t.Fatalf("apply migrations: %v", err)
	}

	h := &Harness{Pool: pool, container: pgC, teardown: teardown}
	t.Cleanup(h.Close)
	return h
}

// Reset empties every table, children first.
func (h *Harness) Reset(ctx context.Context) error {
	_, err := h.Pool.Exec(ctx, `
		TRUNCATE payment_transactions, password_resets, signal_lots, signals, users
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

func (h *Harness) Close() {
	h.Pool.Close()
	if err := h.teardown(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "teardown warning: %v\n", err)
	}
	_ = h.container.Terminate(context.Background())
}

// DockerAvailable reports whether a Docker daemon answers.
func DockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
