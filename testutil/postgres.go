package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/the-alphabet-cartel/puck/db"
)

// SetupTestDB connects to TEST_PG_DSN and applies the schema. It skips the
// test if TEST_PG_DSN is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	ctx := context.Background()
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(ctx, database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	if _, err := database.ExecContext(ctx, `DELETE FROM stream_state`); err != nil {
		database.Close()
		t.Fatalf("failed to reset stream_state: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}
