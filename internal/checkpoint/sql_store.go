package checkpoint

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kandev/orcad/internal/db"
	"github.com/kandev/orcad/internal/db/dialect"
	"github.com/kandev/orcad/pkg/session"
)

var _ Store = (*SQLStore)(nil)

// SQLStore is a sqlx-backed Store persisting checkpoints in
// session_checkpoints, one row per (tenant, session, version).
type SQLStore struct {
	pool *db.Pool
}

// NewSQLStore wraps an existing connection pool as a checkpoint Store.
func NewSQLStore(pool *db.Pool) *SQLStore {
	return &SQLStore{pool: pool}
}

// Migrate creates the session_checkpoints table if it doesn't exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Writer().ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS session_checkpoints (
			tenant_id  TEXT NOT NULL,
			session_id TEXT NOT NULL,
			version    INTEGER NOT NULL,
			state_tag  TEXT NOT NULL,
			blob       BLOB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, session_id, version)
		)
	`)
	return err
}

type checkpointRow struct {
	TenantID  string       `db:"tenant_id"`
	SessionID string       `db:"session_id"`
	Version   int          `db:"version"`
	StateTag  string       `db:"state_tag"`
	Blob      []byte       `db:"blob"`
	CreatedAt sql.NullTime `db:"created_at"`
}

func (r checkpointRow) toCheckpoint() session.Checkpoint {
	cp := session.Checkpoint{
		Tenant:    r.TenantID,
		SessionID: r.SessionID,
		Version:   r.Version,
		StateTag:  session.State(r.StateTag),
		Blob:      r.Blob,
	}
	if r.CreatedAt.Valid {
		cp.CreatedAt = r.CreatedAt.Time
	}
	return cp
}

// Save inserts a new checkpoint version. Versions are assigned by the
// caller's monotonic session version counter (the orchestrator's own
// transition counter), not auto-generated here. A save that repeats an
// existing version is rejected by the primary key and Save returns that
// error; the stored checkpoint is left unchanged.
func (s *SQLStore) Save(ctx context.Context, cp session.Checkpoint) (int, error) {
	driver := s.pool.Writer().DriverName()
	query := fmt.Sprintf(`
		INSERT INTO session_checkpoints (tenant_id, session_id, version, state_tag, blob, created_at)
		VALUES (?, ?, ?, ?, ?, %s)
	`, dialect.Now(driver))
	_, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(query),
		cp.Tenant, cp.SessionID, cp.Version, string(cp.StateTag), cp.Blob)
	if err != nil {
		return 0, fmt.Errorf("checkpoint save: %w", err)
	}
	return cp.Version, nil
}

// LoadLatest returns the highest-versioned checkpoint for a session.
func (s *SQLStore) LoadLatest(ctx context.Context, tenant, sessionID string) (session.Checkpoint, error) {
	var row checkpointRow
	query := s.pool.Reader().Rebind(`
		SELECT tenant_id, session_id, version, state_tag, blob, created_at
		FROM session_checkpoints
		WHERE tenant_id = ? AND session_id = ?
		ORDER BY version DESC
		LIMIT 1
	`)
	err := s.pool.Reader().GetContext(ctx, &row, query, tenant, sessionID)
	if err == sql.ErrNoRows {
		return session.Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return session.Checkpoint{}, fmt.Errorf("checkpoint load latest: %w", err)
	}
	return row.toCheckpoint(), nil
}

// LoadAt returns the checkpoint at an exact version.
func (s *SQLStore) LoadAt(ctx context.Context, tenant, sessionID string, version int) (session.Checkpoint, error) {
	var row checkpointRow
	query := s.pool.Reader().Rebind(`
		SELECT tenant_id, session_id, version, state_tag, blob, created_at
		FROM session_checkpoints
		WHERE tenant_id = ? AND session_id = ? AND version = ?
	`)
	err := s.pool.Reader().GetContext(ctx, &row, query, tenant, sessionID, version)
	if err == sql.ErrNoRows {
		return session.Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return session.Checkpoint{}, fmt.Errorf("checkpoint load at: %w", err)
	}
	return row.toCheckpoint(), nil
}

// ListVersions returns known versions for a session, newest first. A
// limit <= 0 returns every version.
func (s *SQLStore) ListVersions(ctx context.Context, tenant, sessionID string, limit int) ([]int, error) {
	var versions []int
	query := `
		SELECT version FROM session_checkpoints
		WHERE tenant_id = ? AND session_id = ?
		ORDER BY version DESC
	`
	args := []interface{}{tenant, sessionID}
	if limit > 0 {
		query += `LIMIT ?`
		args = append(args, limit)
	}
	if err := s.pool.Reader().SelectContext(ctx, &versions, s.pool.Reader().Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("checkpoint list versions: %w", err)
	}
	return versions, nil
}

// Prune deletes all but the keepLast most recent versions.
func (s *SQLStore) Prune(ctx context.Context, tenant, sessionID string, keepLast int) error {
	if keepLast <= 0 {
		return fmt.Errorf("keepLast must be positive")
	}
	query := s.pool.Writer().Rebind(`
		DELETE FROM session_checkpoints
		WHERE tenant_id = ? AND session_id = ? AND version NOT IN (
			SELECT version FROM session_checkpoints
			WHERE tenant_id = ? AND session_id = ?
			ORDER BY version DESC
			LIMIT ?
		)
	`)
	_, err := s.pool.Writer().ExecContext(ctx, query, tenant, sessionID, tenant, sessionID, keepLast)
	if err != nil {
		return fmt.Errorf("checkpoint prune: %w", err)
	}
	return nil
}
