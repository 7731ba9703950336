package db_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"signaldesk/db"
)

// isolatedPool points a pool at a throwaway schema dropped when the test ends.
func isolatedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}
	ctx := context.Background()

	ident := pgx.Identifier{fmt.Sprintf("migrate_%d", time.Now().UnixNano())}.Sanitize()
	conn, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+ident)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+ident+" CASCADE")
		_ = conn.Close(context.Background())
	})

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.AfterConnect = func(ctx context.Context, c *pgx.Conn) error {
		_, err := c.Exec(ctx, "SET search_path TO "+ident+", public")
		return err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestMigrateFS_AppliesOnlyNewVersions(t *testing.T) {
	pool := isolatedPool(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"00001_contacts.sql": {Data: []byte("-- +goose Up\nCREATE TABLE contacts (id SERIAL PRIMARY KEY, name TEXT NOT NULL);\n")},
	}
	require.NoError(t, db.MigrateFS(ctx, pool, fsys, nil))

	// a non-idempotent statement only succeeds when earlier versions are skipped
	fsys["00002_phone.sql"] = &fstest.MapFile{Data: []byte("-- +goose Up\nALTER TABLE contacts ADD COLUMN phone TEXT;\n")}
	require.NoError(t, db.MigrateFS(ctx, pool, fsys, nil))
	require.NoError(t, db.MigrateFS(ctx, pool, fsys, nil))

	var latest int64
	err := pool.QueryRow(ctx, `SELECT max(version_id) FROM goose_db_version WHERE is_applied`).Scan(&latest)
	require.NoError(t, err)
	require.EqualValues(t, 2, latest)

	_, err = pool.Exec(ctx, `INSERT INTO contacts (name, phone) VALUES ('ada', '555')`)
	require.NoError(t, err)
}

func TestMigrate_Concurrent(t *testing.T) {
	pool := isolatedPool(t)
	ctx := context.Background()

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() { errs <- db.Migrate(ctx, pool, nil) }()
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, <-errs)
	}

	var users int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&users))
	require.Zero(t, users)
}
