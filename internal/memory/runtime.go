package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kandev/orcad/internal/db"
	"github.com/kandev/orcad/internal/db/dialect"
	"github.com/kandev/orcad/pkg/session"
)

// RuntimeStore is the session-scoped working-set tier: distilled facts the
// planner extracted, kept for as long as the session lives.
type RuntimeStore interface {
	Migrate(ctx context.Context) error
	Put(ctx context.Context, item session.MemoryItem) error
	Get(ctx context.Context, sessionID, id string) (session.MemoryItem, error)
	Search(ctx context.Context, sessionID, query string, k int) ([]session.MemoryItem, error)
}

var _ RuntimeStore = (*SQLRuntimeStore)(nil)

// SQLRuntimeStore persists runtime memory items in runtime_memory_items, one
// row per (session, item). It survives a replica restart because it shares
// the same pool as the checkpointer rather than living only in-process.
type SQLRuntimeStore struct {
	pool *db.Pool
}

// NewSQLRuntimeStore wraps an existing connection pool as a runtime tier.
func NewSQLRuntimeStore(pool *db.Pool) *SQLRuntimeStore {
	return &SQLRuntimeStore{pool: pool}
}

// Migrate creates the runtime_memory_items table if it doesn't exist.
func (s *SQLRuntimeStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Writer().ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runtime_memory_items (
			id         TEXT NOT NULL PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind       TEXT NOT NULL,
			content    TEXT NOT NULL,
			pinned     BOOLEAN NOT NULL DEFAULT FALSE,
			score      REAL NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

type runtimeItemRow struct {
	ID        string       `db:"id"`
	SessionID string       `db:"session_id"`
	Kind      string       `db:"kind"`
	Content   string       `db:"content"`
	Pinned    bool         `db:"pinned"`
	Score     float64      `db:"score"`
	CreatedAt sql.NullTime `db:"created_at"`
}

func (r runtimeItemRow) toItem() session.MemoryItem {
	item := session.MemoryItem{
		ID:        r.ID,
		SessionID: r.SessionID,
		Kind:      r.Kind,
		Content:   r.Content,
		Pinned:    r.Pinned,
		Score:     r.Score,
	}
	if r.CreatedAt.Valid {
		item.CreatedAt = r.CreatedAt.Time
	}
	return item
}

// Put upserts a runtime memory item.
func (s *SQLRuntimeStore) Put(ctx context.Context, item session.MemoryItem) error {
	driver := s.pool.Writer().DriverName()
	var query string
	if dialect.IsPostgres(driver) {
		query = fmt.Sprintf(`
			INSERT INTO runtime_memory_items (id, session_id, kind, content, pinned, score, created_at)
			VALUES (?, ?, ?, ?, ?, ?, %s)
			ON CONFLICT (id) DO UPDATE SET
				kind = EXCLUDED.kind, content = EXCLUDED.content,
				pinned = EXCLUDED.pinned, score = EXCLUDED.score
		`, dialect.Now(driver))
	} else {
		query = fmt.Sprintf(`
			INSERT INTO runtime_memory_items (id, session_id, kind, content, pinned, score, created_at)
			VALUES (?, ?, ?, ?, ?, ?, %s)
			ON CONFLICT (id) DO UPDATE SET
				kind = excluded.kind, content = excluded.content,
				pinned = excluded.pinned, score = excluded.score
		`, dialect.Now(driver))
	}
	_, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(query),
		item.ID, item.SessionID, item.Kind, item.Content, item.Pinned, item.Score)
	if err != nil {
		return fmt.Errorf("runtime memory put: %w", err)
	}
	return nil
}

// Get returns a single item by id, scoped to a session.
func (s *SQLRuntimeStore) Get(ctx context.Context, sessionID, id string) (session.MemoryItem, error) {
	var row runtimeItemRow
	query := s.pool.Reader().Rebind(`
		SELECT id, session_id, kind, content, pinned, score, created_at
		FROM runtime_memory_items
		WHERE session_id = ? AND id = ?
	`)
	err := s.pool.Reader().GetContext(ctx, &row, query, sessionID, id)
	if err == sql.ErrNoRows {
		return session.MemoryItem{}, ErrNotFound
	}
	if err != nil {
		return session.MemoryItem{}, fmt.Errorf("runtime memory get: %w", err)
	}
	return row.toItem(), nil
}

// Search does a naive substring match over content, ordered by recency. It
// is a working-set lookup, not a relevance engine — Store.Search applies
// the actual ranking on top of these candidates.
func (s *SQLRuntimeStore) Search(ctx context.Context, sessionID, query string, k int) ([]session.MemoryItem, error) {
	if k <= 0 {
		k = 20
	}
	var rows []runtimeItemRow
	like := "%" + strings.ToLower(query) + "%"
	sqlQuery := s.pool.Reader().Rebind(`
		SELECT id, session_id, kind, content, pinned, score, created_at
		FROM runtime_memory_items
		WHERE session_id = ? AND (? = '' OR LOWER(content) LIKE ?)
		ORDER BY created_at DESC
		LIMIT ?
	`)
	if err := s.pool.Reader().SelectContext(ctx, &rows, sqlQuery, sessionID, query, like, k); err != nil {
		return nil, fmt.Errorf("runtime memory search: %w", err)
	}
	out := make([]session.MemoryItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toItem())
	}
	return out, nil
}
