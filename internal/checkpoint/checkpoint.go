// Package checkpoint implements the Checkpointer contract: durable,
// versioned snapshots of session state keyed by (tenant, session, version).
package checkpoint

import (
	"context"
	"errors"

	"github.com/kandev/orcad/pkg/session"
)

// ErrNotFound is returned when no checkpoint matches the requested key.
var ErrNotFound = errors.New("checkpoint: not found")

// Store is the Checkpointer contract: save, load_latest, load_at,
// list_versions, prune.
type Store interface {
	Save(ctx context.Context, cp session.Checkpoint) (version int, err error)
	LoadLatest(ctx context.Context, tenant, sessionID string) (session.Checkpoint, error)
	LoadAt(ctx context.Context, tenant, sessionID string, version int) (session.Checkpoint, error)
	// ListVersions returns known versions newest first. limit <= 0 means no limit.
	ListVersions(ctx context.Context, tenant, sessionID string, limit int) ([]int, error)
	Prune(ctx context.Context, tenant, sessionID string, keepLast int) error
}
