//go:build integration

package migrator_test

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/archon-research/oracle-pusher/db"
	"github.com/archon-research/oracle-pusher/db/migrator"
	"github.com/archon-research/oracle-pusher/internal/testutil"
)

func TestMigrator_ApplyAll(t *testing.T) {
	ctx := context.Background()
	dsn, cleanup := testutil.StartPostgres(t)
	defer cleanup()
	pool := testutil.ConnectPool(t, dsn)
	defer pool.Close()

	m := migrator.New(pool, db.Migrations(), testutil.DiscardLogger())
	if err := m.ApplyAll(ctx); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	for _, table := range []string{"migrations", "feed_network_state", "oracle_submission"} {
		var exists bool
		err := pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public'
				AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("checking table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("expected table %s does not exist", table)
		}
	}

	applied, err := m.ListApplied(ctx)
	if err != nil {
		t.Fatalf("ListApplied: %v", err)
	}
	files, _ := migrator.MigrationFiles(db.Migrations())
	if len(applied) != len(files) {
		t.Fatalf("applied %d migrations, want %d", len(applied), len(files))
	}

	if err := m.ApplyAll(ctx); err != nil {
		t.Fatalf("second ApplyAll failed: %v", err)
	}
	again, _ := m.ListApplied(ctx)
	if len(again) != len(applied) {
		t.Fatalf("migration count changed: expected %d, got %d", len(applied), len(again))
	}
}

func TestMigrator_RejectsModifiedMigration(t *testing.T) {
	ctx := context.Background()
	dsn, cleanup := testutil.StartPostgres(t)
	defer cleanup()
	pool := testutil.ConnectPool(t, dsn)
	defer pool.Close()

	original := fstest.MapFS{"001_t.sql": {Data: []byte("CREATE TABLE t (id INT);")}}
	if err := migrator.New(pool, original, testutil.DiscardLogger()).ApplyAll(ctx); err != nil {
		t.Fatalf("ApplyAll: %v", err)
	}

	modified := fstest.MapFS{"001_t.sql": {Data: []byte("CREATE TABLE t (id BIGINT);")}}
	if err := migrator.New(pool, modified, testutil.DiscardLogger()).ApplyAll(ctx); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestMigrator_FailedMigrationIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	dsn, cleanup := testutil.StartPostgres(t)
	defer cleanup()
	pool := testutil.ConnectPool(t, dsn)
	defer pool.Close()

	broken := fstest.MapFS{"001_bad.sql": {Data: []byte("CREATE TABLE;")}}
	m := migrator.New(pool, broken, testutil.DiscardLogger())
	if err := m.ApplyAll(ctx); err == nil {
		t.Fatal("expected error for invalid SQL")
	}

	applied, err := m.ListApplied(ctx)
	if err != nil {
		t.Fatalf("ListApplied: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("applied = %v, want none", applied)
	}
}
