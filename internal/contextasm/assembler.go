// Package contextasm implements the ContextAssembler: given a session, a
// target agent, and the current PlanStep, it builds the bounded
// ContextBundle that AgentRunner consumes. The assembler is pure given its
// inputs and a MemoryStore snapshot — the same inputs produce the same
// bundle within a single step.
package contextasm

import (
	"context"
	"sort"

	"github.com/kandev/orcad/internal/memory"
	"github.com/kandev/orcad/internal/toolregistry"
	"github.com/kandev/orcad/pkg/session"
)

// DefaultWindow is the default number of trailing conversation turns kept
// when an agent doesn't configure its own K.
const DefaultWindow = 12

// DefaultTopM is the default number of memory items queried for relevance.
const DefaultTopM = 8

// DefaultScoreFloor drops memory candidates scoring below this threshold.
const DefaultScoreFloor = 0.1

// Assembler builds ContextBundles from a session's history, the
// MemoryStore, and the ToolRegistry.
type Assembler struct {
	memory  *memory.Store
	tools   *toolregistry.Registry
	counter TokenCounter
	agents  map[string]session.AgentSpec
}

// NewAssembler wires the three sources a bundle is built from. agents is
// the full roster, keyed by name, used to resolve an agent's peers.
func NewAssembler(mem *memory.Store, tools *toolregistry.Registry, counter TokenCounter, agents map[string]session.AgentSpec) *Assembler {
	if counter == nil {
		counter = WordHeuristicCounter{}
	}
	return &Assembler{memory: mem, tools: tools, counter: counter, agents: agents}
}

// Request carries everything Assemble needs beyond the wired sources.
type Request struct {
	Sess        session.Session
	Step        session.PlanStep
	TargetAgent session.AgentSpec
	Window      int // conversation turns to keep; 0 means DefaultWindow
	TopM        int // memory candidates to keep; 0 means DefaultTopM
	ScoreFloor  float64
	TokenBudget int
}

// Assemble runs the five-step algorithm and returns a bundle trimmed to fit
// req.TokenBudget.
func (a *Assembler) Assemble(ctx context.Context, req Request) (session.ContextBundle, error) {
	window := req.Window
	if window <= 0 {
		window = DefaultWindow
	}
	topM := req.TopM
	if topM <= 0 {
		topM = DefaultTopM
	}
	scoreFloor := req.ScoreFloor
	if scoreFloor <= 0 {
		scoreFloor = DefaultScoreFloor
	}

	turns := windowedTurns(req.Sess.History, req.Step.ID, window)

	query := req.Step.Title
	if trigger := triggeringUserMessage(req.Sess.History); trigger != nil {
		query = query + " " + trigger.Content
	}
	memories, err := a.relevantMemories(ctx, req.Sess.ID, query, topM, scoreFloor)
	if err != nil {
		return session.ContextBundle{}, err
	}

	tools, err := a.tools.ListForPolicy(ctx, req.TargetAgent.PermittedTools)
	if err != nil {
		return session.ContextBundle{}, err
	}

	peers := a.peerRoster(req.TargetAgent)
	toolResults := stepToolResults(req.Sess.History, req.Step.ID)

	bundle := session.ContextBundle{
		SessionID:   req.Sess.ID,
		StepID:      req.Step.ID,
		Turns:       turns,
		Memories:    memories,
		Tools:       tools,
		Peers:       peers,
		ToolResults: toolResults,
		TokenBudget: req.TokenBudget,
	}
	a.evictToFit(&bundle, req.Step.ID)
	return bundle, nil
}

// triggeringUserMessage returns the most recent user_text message in
// history, the message that caused the current step to run.
func triggeringUserMessage(history []session.Message) *session.Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Kind == session.KindUserText {
			return &history[i]
		}
	}
	return nil
}

// windowedTurns keeps the last window turns, then force-includes the
// triggering user message and any form_request/form_reply pair belonging to
// the current step, regardless of whether they fell inside the window.
func windowedTurns(history []session.Message, stepID string, window int) []session.Message {
	start := 0
	if len(history) > window {
		start = len(history) - window
	}
	kept := make([]session.Message, len(history[start:]))
	copy(kept, history[start:])

	have := make(map[string]bool, len(kept))
	for _, m := range kept {
		have[m.ID] = true
	}

	var mustInclude []session.Message
	if trigger := triggeringUserMessage(history); trigger != nil && !have[trigger.ID] {
		mustInclude = append(mustInclude, *trigger)
	}
	for _, m := range history {
		if m.StepID != stepID {
			continue
		}
		if m.Kind != session.KindAgentFormRequest && m.Kind != session.KindUserFormReply {
			continue
		}
		if !have[m.ID] {
			mustInclude = append(mustInclude, m)
		}
	}

	if len(mustInclude) == 0 {
		return kept
	}
	merged := append(mustInclude, kept...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].CreatedAt.Before(merged[j].CreatedAt) })
	return merged
}

// stepToolResults returns every tool_result message produced earlier in the
// current step, in original order.
func stepToolResults(history []session.Message, stepID string) []session.Message {
	var out []session.Message
	for _, m := range history {
		if m.StepID == stepID && m.Kind == session.KindToolResult {
			out = append(out, m)
		}
	}
	return out
}

func (a *Assembler) relevantMemories(ctx context.Context, sessionID, query string, topM int, scoreFloor float64) ([]session.MemoryItem, error) {
	scored, err := a.memory.SearchAll(ctx, sessionID, query, topM)
	if err != nil {
		return nil, err
	}
	out := make([]session.MemoryItem, 0, len(scored))
	for _, s := range scored {
		if s.Score < scoreFloor {
			continue
		}
		out = append(out, s.Item)
	}
	return out, nil
}

// peerRoster returns the names and descriptions of agents target may
// delegate to, with no transitive exposure of those peers' own rosters.
func (a *Assembler) peerRoster(target session.AgentSpec) []session.AgentSpec {
	out := make([]session.AgentSpec, 0, len(target.DelegatesTo))
	for _, name := range target.DelegatesTo {
		peer, ok := a.agents[name]
		if !ok {
			continue
		}
		out = append(out, session.AgentSpec{Name: peer.Name, Description: peer.Description})
	}
	return out
}

// evictToFit drops items from bundle, over budget, in the order: oldest
// non-pinned memory, then lowest-scored memory, then oldest non-triggering
// turn. Pinned turns and the current step's tool results are never dropped.
func (a *Assembler) evictToFit(bundle *session.ContextBundle, stepID string) {
	bundle.TokensUsed = a.measure(*bundle)
	if bundle.TokenBudget <= 0 || bundle.TokensUsed <= bundle.TokenBudget {
		return
	}

	for bundle.TokensUsed > bundle.TokenBudget && len(bundle.Memories) > 0 {
		idx := lowestPriorityMemory(bundle.Memories)
		if idx < 0 {
			break
		}
		bundle.Memories = append(bundle.Memories[:idx], bundle.Memories[idx+1:]...)
		bundle.TokensUsed = a.measure(*bundle)
	}

	for bundle.TokensUsed > bundle.TokenBudget {
		idx := oldestDroppableTurn(bundle.Turns, stepID)
		if idx < 0 {
			break
		}
		bundle.Turns = append(bundle.Turns[:idx], bundle.Turns[idx+1:]...)
		bundle.TokensUsed = a.measure(*bundle)
	}
}

// lowestPriorityMemory picks the next memory item to drop: the oldest
// unpinned item while any remain, otherwise the lowest scored item.
// Returns -1 only when items is empty.
func lowestPriorityMemory(items []session.MemoryItem) int {
	oldest := -1
	for i, it := range items {
		if !it.Pinned && (oldest < 0 || it.CreatedAt.Before(items[oldest].CreatedAt)) {
			oldest = i
		}
	}
	if oldest >= 0 {
		return oldest
	}
	lowest := -1
	for i, it := range items {
		if lowest < 0 || it.Score < items[lowest].Score {
			lowest = i
		}
	}
	return lowest
}

// oldestDroppableTurn finds the oldest turn that is neither pinned nor the
// triggering message (the last user_text turn) nor part of the current
// step's form exchange.
func oldestDroppableTurn(turns []session.Message, stepID string) int {
	trigger := -1
	for i, m := range turns {
		if m.Kind == session.KindUserText {
			trigger = i
		}
	}
	for i, m := range turns {
		if m.Pinned || i == trigger {
			continue
		}
		if m.StepID == stepID && (m.Kind == session.KindAgentFormRequest || m.Kind == session.KindUserFormReply) {
			continue
		}
		return i
	}
	return -1
}

func (a *Assembler) measure(bundle session.ContextBundle) int {
	total := 0
	for _, m := range bundle.Turns {
		total += a.counter.Count(m.Content)
	}
	for _, m := range bundle.Memories {
		total += a.counter.Count(m.Content)
	}
	for _, m := range bundle.ToolResults {
		total += a.counter.Count(m.Content)
	}
	return total
}
