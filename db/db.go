// Package db provides the Postgres connection helper, schema migration and
// the Postgres-backed stream state store.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/the-alphabet-cartel/puck/stream"
)

// Connect opens a Postgres connection pool for dsn and verifies it.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	database.SetMaxOpenConns(4)
	database.SetConnMaxIdleTime(5 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return database, nil
}

// Migrate applies idempotent schema changes; the fallback when versioned
// migrations cannot run.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stream_state (
			key TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			platform_username TEXT NOT NULL,
			is_live BOOLEAN NOT NULL DEFAULT FALSE,
			data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stream_state_live ON stream_state (platform) WHERE is_live`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// StateStore keeps the keyed stream state in the stream_state table. Each
// row's data column holds the same JSON document the file store writes.
type StateStore struct {
	DB *sql.DB
}

func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{DB: db}
}

// Load returns every stored status. Rows that fail to decode are skipped.
func (s *StateStore) Load(ctx context.Context) (map[string]stream.Status, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT key, data FROM stream_state`)
	if err != nil {
		return nil, fmt.Errorf("query stream state: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			slog.Warn("failed to close rows", slog.Any("err", cerr))
		}
	}()

	out := make(map[string]stream.Status)
	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("scan stream state: %w", err)
		}
		var st stream.Status
		if err := json.Unmarshal(data, &st); err != nil {
			slog.Warn("skipping undecodable stream state row", slog.String("key", key), slog.Any("err", err), slog.String("component", "db"))
			continue
		}
		out[key] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stream state: %w", err)
	}
	return out, nil
}

// Save replaces the stored state with streams in one transaction.
func (s *StateStore) Save(ctx context.Context, streams map[string]stream.Status) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Warn("rollback failed", slog.Any("err", rbErr), slog.String("component", "db"))
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM stream_state`); err != nil {
		return fmt.Errorf("clear stream state: %w", err)
	}
	for key, st := range streams {
		var data []byte
		data, err = json.Marshal(st)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO stream_state (key, platform, platform_username, is_live, data, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NOW())`,
			key, st.Platform, st.PlatformUsername, st.IsLive, string(data)); err != nil {
			return fmt.Errorf("insert %s: %w", key, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
