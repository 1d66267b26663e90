package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/kandev/orcad/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SaveAndLoadLatest(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	_, err := store.Save(ctx, session.Checkpoint{Tenant: "t1", SessionID: "s1", Version: 1, StateTag: session.StatePlanning})
	require.NoError(t, err)
	_, err = store.Save(ctx, session.Checkpoint{Tenant: "t1", SessionID: "s1", Version: 2, StateTag: session.StateExecuting})
	require.NoError(t, err)

	latest, err := store.LoadLatest(ctx, "t1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, session.StateExecuting, latest.StateTag)
}

func TestMemory_LoadLatest_NotFound(t *testing.T) {
	store := NewMemory()
	_, err := store.LoadLatest(context.Background(), "t1", "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemory_LoadAt(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	_, _ = store.Save(ctx, session.Checkpoint{Tenant: "t1", SessionID: "s1", Version: 1, StateTag: session.StateValidating})
	_, _ = store.Save(ctx, session.Checkpoint{Tenant: "t1", SessionID: "s1", Version: 2, StateTag: session.StatePlanning})

	cp, err := store.LoadAt(ctx, "t1", "s1", 1)
	require.NoError(t, err)
	assert.Equal(t, session.StateValidating, cp.StateTag)
}

func TestMemory_ListVersionsDescending(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	for v := 1; v <= 3; v++ {
		_, _ = store.Save(ctx, session.Checkpoint{Tenant: "t1", SessionID: "s1", Version: v})
	}

	versions, err := store.ListVersions(ctx, "t1", "s1", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 1}, versions)
}

func TestMemory_ListVersionsRespectsLimit(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	for v := 1; v <= 5; v++ {
		_, _ = store.Save(ctx, session.Checkpoint{Tenant: "t1", SessionID: "s1", Version: v})
	}

	versions, err := store.ListVersions(ctx, "t1", "s1", 2)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 4}, versions)
}

func TestMemory_PruneKeepsOnlyMostRecent(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	for v := 1; v <= 5; v++ {
		_, _ = store.Save(ctx, session.Checkpoint{Tenant: "t1", SessionID: "s1", Version: v})
	}

	require.NoError(t, store.Prune(ctx, "t1", "s1", 2))

	versions, err := store.ListVersions(ctx, "t1", "s1", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 4}, versions)
}

func TestMemory_IsolatesSessions(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	_, _ = store.Save(ctx, session.Checkpoint{Tenant: "t1", SessionID: "s1", Version: 1})
	_, _ = store.Save(ctx, session.Checkpoint{Tenant: "t1", SessionID: "s2", Version: 1})

	_, err := store.LoadLatest(ctx, "t1", "s1")
	require.NoError(t, err)

	require.NoError(t, store.Prune(ctx, "t1", "s1", 1))
	versions, err := store.ListVersions(ctx, "t1", "s2", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions)
}
