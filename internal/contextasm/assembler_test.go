package contextasm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/orcad/internal/memory"
	"github.com/kandev/orcad/internal/toolregistry"
	"github.com/kandev/orcad/pkg/session"
)

func newTestAssembler(t *testing.T, agents map[string]session.AgentSpec) *Assembler {
	t.Helper()
	cache := memory.NewCache(time.Hour, time.Hour)
	t.Cleanup(cache.Close)
	store := memory.NewStore(cache, noopRuntime{}, memory.NewVectorStore(), memory.DefaultRankWeights())
	tools := toolregistry.NewRegistry()
	return NewAssembler(store, tools, WordHeuristicCounter{}, agents)
}

type noopRuntime struct{}

func (noopRuntime) Migrate(context.Context) error                 { return nil }
func (noopRuntime) Put(context.Context, session.MemoryItem) error { return nil }
func (noopRuntime) Get(context.Context, string, string) (session.MemoryItem, error) {
	return session.MemoryItem{}, memory.ErrNotFound
}
func (noopRuntime) Search(context.Context, string, string, int) ([]session.MemoryItem, error) {
	return nil, nil
}

func TestAssemble_WindowIncludesTriggeringMessageEvenOutsideWindow(t *testing.T) {
	a := newTestAssembler(t, nil)
	now := time.Now()

	history := []session.Message{
		{ID: "trigger", Kind: session.KindUserText, Content: "do the thing", CreatedAt: now.Add(-time.Hour)},
	}
	for i := 0; i < 20; i++ {
		history = append(history, session.Message{
			ID:        "filler",
			Kind:      session.KindAgentMarkdown,
			Content:   "chatter",
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		})
	}

	bundle, err := a.Assemble(context.Background(), Request{
		Sess: session.Session{ID: "s1", History: history},
		Step: session.PlanStep{ID: "step-1", Title: "do the thing"},
	})
	require.NoError(t, err)

	found := false
	for _, m := range bundle.Turns {
		if m.ID == "trigger" {
			found = true
		}
	}
	assert.True(t, found, "triggering user message must be included even though it falls outside the trailing window")
}

func TestAssemble_FormPairIncludedForCurrentStep(t *testing.T) {
	a := newTestAssembler(t, nil)
	now := time.Now()

	history := []session.Message{
		{ID: "u1", Kind: session.KindUserText, Content: "hello", CreatedAt: now.Add(-time.Hour)},
		{ID: "req", StepID: "step-1", Kind: session.KindAgentFormRequest, Content: "form", CreatedAt: now.Add(-50 * time.Minute)},
		{ID: "reply", StepID: "step-1", Kind: session.KindUserFormReply, Content: "reply", CreatedAt: now.Add(-49 * time.Minute)},
	}
	for i := 0; i < 20; i++ {
		history = append(history, session.Message{
			ID:        "filler",
			Kind:      session.KindAgentMarkdown,
			Content:   "chatter",
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		})
	}

	bundle, err := a.Assemble(context.Background(), Request{
		Sess: session.Session{ID: "s1", History: history},
		Step: session.PlanStep{ID: "step-1", Title: "hello"},
	})
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, m := range bundle.Turns {
		ids[m.ID] = true
	}
	assert.True(t, ids["req"])
	assert.True(t, ids["reply"])
}

func TestAssemble_ToolResultsScopedToCurrentStep(t *testing.T) {
	a := newTestAssembler(t, nil)
	now := time.Now()

	history := []session.Message{
		{ID: "u1", Kind: session.KindUserText, Content: "go", CreatedAt: now},
		{ID: "tr1", StepID: "step-1", Kind: session.KindToolResult, Content: "result from step 1", CreatedAt: now},
		{ID: "tr2", StepID: "step-2", Kind: session.KindToolResult, Content: "result from step 2", CreatedAt: now},
	}

	bundle, err := a.Assemble(context.Background(), Request{
		Sess: session.Session{ID: "s1", History: history},
		Step: session.PlanStep{ID: "step-1", Title: "go"},
	})
	require.NoError(t, err)

	require.Len(t, bundle.ToolResults, 1)
	assert.Equal(t, "tr1", bundle.ToolResults[0].ID)
}

func TestAssemble_PeerRosterHasNoTransitiveExposure(t *testing.T) {
	agents := map[string]session.AgentSpec{
		"planner":  {Name: "planner", Description: "plans work", DelegatesTo: []string{"executor"}},
		"executor": {Name: "executor", Description: "executes steps", DelegatesTo: []string{"reviewer"}},
		"reviewer": {Name: "reviewer", Description: "reviews output"},
	}
	a := newTestAssembler(t, agents)

	bundle, err := a.Assemble(context.Background(), Request{
		Sess:        session.Session{ID: "s1"},
		Step:        session.PlanStep{ID: "step-1", Title: "plan"},
		TargetAgent: agents["planner"],
	})
	require.NoError(t, err)

	require.Len(t, bundle.Peers, 1)
	assert.Equal(t, "executor", bundle.Peers[0].Name)
	assert.Equal(t, "executes steps", bundle.Peers[0].Description)
	assert.Empty(t, bundle.Peers[0].DelegatesTo, "peer roster must not transitively expose the peer's own delegates")
}

func TestAssemble_EvictsOldestNonPinnedMemoryFirst(t *testing.T) {
	a := newTestAssembler(t, nil)
	now := time.Now()

	require.NoError(t, a.memory.Put(context.Background(), memory.ScopeCache, session.MemoryItem{
		ID: "low", Content: "this is a fairly long memory entry that costs several tokens to keep around",
		Score: 0.2, CreatedAt: now.Add(-2 * time.Hour), Pinned: false,
	}, nil))
	require.NoError(t, a.memory.Put(context.Background(), memory.ScopeCache, session.MemoryItem{
		ID: "pinned", Content: "another fairly long memory entry that also costs several tokens to keep",
		Score: 0.1, CreatedAt: now.Add(-3 * time.Hour), Pinned: true,
	}, nil))

	bundle, err := a.Assemble(context.Background(), Request{
		Sess:        session.Session{ID: "s1"},
		Step:        session.PlanStep{ID: "step-1", Title: ""},
		TokenBudget: 1,
	})
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, m := range bundle.Memories {
		ids[m.ID] = true
	}
	assert.False(t, ids["low"], "unpinned memory should be evicted before the budget check passes")
}

func TestAssemble_PureForSameInputs(t *testing.T) {
	agents := map[string]session.AgentSpec{
		"planner": {Name: "planner", Description: "plans", DelegatesTo: nil},
	}
	a := newTestAssembler(t, agents)
	now := time.Now()
	history := []session.Message{
		{ID: "u1", Kind: session.KindUserText, Content: "hello", CreatedAt: now},
	}

	req := Request{
		Sess: session.Session{ID: "s1", History: history},
		Step: session.PlanStep{ID: "step-1", Title: "hello"},
	}

	first, err := a.Assemble(context.Background(), req)
	require.NoError(t, err)
	second, err := a.Assemble(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
