// Package orchestrator implements the Orchestrator: one state machine per
// active session, driving Validating -> Planning -> Executing(i) ->
// [AwaitingHuman | Recovering] -> Synthesizing -> Terminal, with every
// transition appending history, updating state, checkpointing, and only
// then publishing the user-visible events.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/kandev/orcad/internal/agentrunner"
	"github.com/kandev/orcad/internal/checkpoint"
	"github.com/kandev/orcad/internal/common/logger"
	"github.com/kandev/orcad/internal/contextasm"
	"github.com/kandev/orcad/internal/eventbus"
	"github.com/kandev/orcad/internal/toolregistry"
	"github.com/kandev/orcad/internal/wire"
	"github.com/kandev/orcad/pkg/session"
)

// Special agent names the state machine invokes directly rather than
// through a PlanStep. A deployment's agent catalog must define these for
// Validating/Planning/Recovering/Synthesizing to function; Recovering's
// reviewer is optional (see recovering.go).
const (
	AgentInputValidator    = "input_validator"
	AgentTaskPlanner       = "task_planner"
	AgentHumanReviewer     = "human_reviewer"
	AgentResultSynthesizer = "result_synthesizer"
)

// DefaultTokenBudget bounds a ContextBundle when a request doesn't set one.
const DefaultTokenBudget = 4000

// DefaultMaxStepRetries bounds Recovering's automatic retries per PlanStep
// when no human_reviewer agent is configured to decide otherwise.
const DefaultMaxStepRetries = 2

// maxActionsPerStep guards against a model that never emits a step-ending
// action (finish_step, fail_step, request_form, or delegate to a dead end).
const maxActionsPerStep = 50

// ContextBuilder is the subset of ContextAssembler the Orchestrator needs.
type ContextBuilder interface {
	Assemble(ctx context.Context, req contextasm.Request) (session.ContextBundle, error)
}

// AgentTurnRunner is the subset of AgentRunner the Orchestrator needs. The
// concrete action type lives in agentrunner; Orchestrator depends on it by
// value so it can keep that package's malformed-output handling intact.
type AgentTurnRunner interface {
	Run(ctx context.Context, spec session.AgentSpec, bundle session.ContextBundle) (agentrunner.Action, error)
}

// ToolInvoker is the subset of ToolRegistry the Orchestrator needs.
type ToolInvoker interface {
	Invoke(ctx context.Context, req toolregistry.InvokeRequest) (map[string]interface{}, error)
	Cancel(invocationID string) error
}

// Deps wires the Orchestrator to the components it coordinates.
type Deps struct {
	Checkpoints checkpoint.Store
	Events      eventbus.Bus
	Assembler   ContextBuilder
	Runner      AgentTurnRunner
	Tools       ToolInvoker
	Agents      map[string]session.AgentSpec
	Logger      *logger.Logger

	TokenBudget    int
	MaxStepRetries int

	// RecoveryPolicy optionally overrides the bounded-retry-then-skip
	// default per agent name, loaded from the workflows catalog: one of
	// "retry_bounded" (the default), "skip", or "abort".
	RecoveryPolicy map[string]string
}

func (d *Deps) applyDefaults() {
	if d.Logger == nil {
		d.Logger = logger.Default()
	}
	if d.TokenBudget <= 0 {
		d.TokenBudget = DefaultTokenBudget
	}
	if d.MaxStepRetries <= 0 {
		d.MaxStepRetries = DefaultMaxStepRetries
	}
}

// Orchestrator owns one state machine per active session, each driven by
// its own serializing worker (see worker.go).
type Orchestrator struct {
	deps Deps

	mu      sync.Mutex
	workers map[string]*sessionWorker
}

// New wires an Orchestrator. Agent names not present in deps.Agents are
// resolved lazily and fail the turn that needed them with an "unknown
// agent" error, rather than at construction time, so a partial catalog during
// startup doesn't block unrelated sessions.
func New(deps Deps) *Orchestrator {
	deps.applyDefaults()
	return &Orchestrator{deps: deps, workers: make(map[string]*sessionWorker)}
}

func (o *Orchestrator) agentSpec(name string) (session.AgentSpec, error) {
	spec, ok := o.deps.Agents[name]
	if !ok {
		return session.AgentSpec{}, fmt.Errorf("orchestrator: unknown agent %q", name)
	}
	return spec, nil
}

// loadOrInit reconstructs a session from its latest checkpoint, or starts
// a fresh Idle session if none exists yet. This is the Orchestrator's
// reentry-after-restart path: callers never need a separate "create
// session" operation.
func (o *Orchestrator) loadOrInit(ctx context.Context, tenant, sessionID string) (session.Session, error) {
	cp, err := o.deps.Checkpoints.LoadLatest(ctx, tenant, sessionID)
	if err == checkpoint.ErrNotFound {
		return session.Session{
			Tenant:           tenant,
			ID:               sessionID,
			State:            session.StateIdle,
			CurrentStepIndex: -1,
			StepRetries:      make(map[string]int),
		}, nil
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("orchestrator: load checkpoint: %w", err)
	}
	sess, err := decodeSession(cp.Blob)
	if err != nil {
		return session.Session{}, fmt.Errorf("orchestrator: decode checkpoint: %w", err)
	}
	if sess.StepRetries == nil {
		sess.StepRetries = make(map[string]int)
	}
	return sess, nil
}

func subject(tenant, sessionID string) string {
	return "session." + tenant + "." + sessionID
}

func newEvent(eventType string, data map[string]interface{}) *eventbus.Event {
	return eventbus.NewEvent(eventType, "orchestrator", data)
}

func markdownEvent(text string) *eventbus.Event {
	ev := newEvent(string(wire.TypeMarkdown), map[string]interface{}{"payload": text})
	ev.Terminal = true
	return ev
}

func progressEvent(data wire.ProgressData, terminal bool) *eventbus.Event {
	ev := newEvent(string(wire.TypeComponent), map[string]interface{}{
		"component": string(wire.ComponentProgress),
		"status":    data.Status,
	})
	if data.StepIndex != nil {
		ev.Data["stepIndex"] = *data.StepIndex
	}
	if data.TotalSteps != nil {
		ev.Data["totalSteps"] = *data.TotalSteps
	}
	ev.Terminal = terminal
	return ev
}

func formRequestEvent(form wire.FormEnvelope) *eventbus.Event {
	ev := newEvent(string(wire.TypeComponent), map[string]interface{}{
		"component": string(wire.ComponentUIInteraction),
		"form":      form,
	})
	ev.Terminal = true
	return ev
}
