package checkpoint

import (
	"context"
	"sort"
	"sync"

	"github.com/kandev/orcad/pkg/session"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process Store, used in tests and for sessions that don't
// require durability across restarts.
type Memory struct {
	mu    sync.RWMutex
	byKey map[string]map[int]session.Checkpoint
}

// NewMemory creates an empty in-memory checkpoint store.
func NewMemory() *Memory {
	return &Memory{byKey: make(map[string]map[int]session.Checkpoint)}
}

func memKey(tenant, sessionID string) string {
	return tenant + "/" + sessionID
}

func (m *Memory) Save(_ context.Context, cp session.Checkpoint) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(cp.Tenant, cp.SessionID)
	versions, ok := m.byKey[key]
	if !ok {
		versions = make(map[int]session.Checkpoint)
		m.byKey[key] = versions
	}
	versions[cp.Version] = cp
	return cp.Version, nil
}

func (m *Memory) LoadLatest(_ context.Context, tenant, sessionID string) (session.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions, ok := m.byKey[memKey(tenant, sessionID)]
	if !ok || len(versions) == 0 {
		return session.Checkpoint{}, ErrNotFound
	}
	best := -1
	for v := range versions {
		if v > best {
			best = v
		}
	}
	return versions[best], nil
}

func (m *Memory) LoadAt(_ context.Context, tenant, sessionID string, version int) (session.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions, ok := m.byKey[memKey(tenant, sessionID)]
	if !ok {
		return session.Checkpoint{}, ErrNotFound
	}
	cp, ok := versions[version]
	if !ok {
		return session.Checkpoint{}, ErrNotFound
	}
	return cp, nil
}

func (m *Memory) ListVersions(_ context.Context, tenant, sessionID string, limit int) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions, ok := m.byKey[memKey(tenant, sessionID)]
	if !ok {
		return nil, nil
	}
	out := make([]int, 0, len(versions))
	for v := range versions {
		out = append(out, v)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Prune(_ context.Context, tenant, sessionID string, keepLast int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions, ok := m.byKey[memKey(tenant, sessionID)]
	if !ok || keepLast <= 0 {
		return nil
	}
	all := make([]int, 0, len(versions))
	for v := range versions {
		all = append(all, v)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(all)))
	if len(all) <= keepLast {
		return nil
	}
	for _, v := range all[keepLast:] {
		delete(versions, v)
	}
	return nil
}
