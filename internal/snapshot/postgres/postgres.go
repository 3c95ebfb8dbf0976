// Package postgres implements coordinator.SessionStorage against a
// PostgreSQL database via pgx, for deployments that need conversation
// snapshots to survive a process restart. Grounded on the teacher's
// database.DB wrapper (pgxpool.Pool, context-scoped Exec/QueryRow) and its
// jsonb-column idiom from internal/db/dialect for storing structured data
// without a migration per field.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kandev/converse/internal/coordinator"
	"github.com/kandev/converse/internal/model"
)

// Store implements coordinator.SessionStorage against a conversation_snapshots table,
// with the message history and team task stored as jsonb columns. A single
// row per session is upserted on every Save; Load reconstructs the full
// Snapshot from that row.
type Store struct {
	pool *pgxpool.Pool
}

var _ coordinator.SessionStorage = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS conversation_snapshots (
	session_id           TEXT PRIMARY KEY,
	history              JSONB NOT NULL DEFAULT '[]',
	team_task            JSONB NOT NULL DEFAULT '{}',
	status               TEXT NOT NULL,
	waiting_for_member_id TEXT NOT NULL DEFAULT '',
	updated_at           TIMESTAMPTZ NOT NULL
)`

// New connects to dsn, verifies the connection, and ensures the
// conversation_snapshots table exists. Mirrors the teacher's
// database.NewDB: parse config, set pool bounds, ping, fail fast.
func New(ctx context.Context, dsn string, maxConns, minConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("snapshot/postgres: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	cfg.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("snapshot/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("snapshot/postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("snapshot/postgres: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Save(ctx context.Context, snap coordinator.Snapshot) error {
	history, err := json.Marshal(snap.History)
	if err != nil {
		return fmt.Errorf("snapshot/postgres: marshal history: %w", err)
	}
	teamTask, err := json.Marshal(snap.TeamTask)
	if err != nil {
		return fmt.Errorf("snapshot/postgres: marshal team task: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversation_snapshots (session_id, history, team_task, status, waiting_for_member_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
			history = EXCLUDED.history,
			team_task = EXCLUDED.team_task,
			status = EXCLUDED.status,
			waiting_for_member_id = EXCLUDED.waiting_for_member_id,
			updated_at = EXCLUDED.updated_at
	`, snap.SessionID, history, teamTask, string(snap.Status), snap.WaitingForMemberID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("snapshot/postgres: save %s: %w", snap.SessionID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, sessionID string) (coordinator.Snapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT history, team_task, status, waiting_for_member_id
		FROM conversation_snapshots WHERE session_id = $1
	`, sessionID)

	var history, teamTask []byte
	var status, waitingFor string
	if err := row.Scan(&history, &teamTask, &status, &waitingFor); err != nil {
		return coordinator.Snapshot{}, fmt.Errorf("snapshot/postgres: load %s: %w", sessionID, err)
	}

	snap := coordinator.Snapshot{
		SessionID:          sessionID,
		Status:             coordinator.Status(status),
		WaitingForMemberID: waitingFor,
	}
	if err := json.Unmarshal(history, &snap.History); err != nil {
		return coordinator.Snapshot{}, fmt.Errorf("snapshot/postgres: unmarshal history: %w", err)
	}
	var teamTaskVal model.TeamTask
	if err := json.Unmarshal(teamTask, &teamTaskVal); err != nil {
		return coordinator.Snapshot{}, fmt.Errorf("snapshot/postgres: unmarshal team task: %w", err)
	}
	snap.TeamTask = teamTaskVal

	return snap, nil
}
