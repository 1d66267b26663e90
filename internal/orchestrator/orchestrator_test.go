package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/orcad/internal/agentrunner"
	"github.com/kandev/orcad/internal/checkpoint"
	"github.com/kandev/orcad/internal/common/logger"
	"github.com/kandev/orcad/internal/contextasm"
	"github.com/kandev/orcad/internal/eventbus"
	"github.com/kandev/orcad/internal/toolregistry"
	"github.com/kandev/orcad/pkg/session"
)

type fakeAssembler struct{}

func (fakeAssembler) Assemble(ctx context.Context, req contextasm.Request) (session.ContextBundle, error) {
	return session.ContextBundle{SessionID: req.Sess.ID, StepID: req.Step.ID}, nil
}

type scriptedRunner struct {
	scripts map[string][]agentrunner.Action
	calls   map[string]int
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{scripts: make(map[string][]agentrunner.Action), calls: make(map[string]int)}
}

func (r *scriptedRunner) script(agent string, actions ...agentrunner.Action) {
	r.scripts[agent] = append(r.scripts[agent], actions...)
}

func (r *scriptedRunner) Run(ctx context.Context, spec session.AgentSpec, bundle session.ContextBundle) (agentrunner.Action, error) {
	i := r.calls[spec.Name]
	r.calls[spec.Name] = i + 1
	queue := r.scripts[spec.Name]
	if i >= len(queue) {
		return agentrunner.Action{}, assert.AnError
	}
	return queue[i], nil
}

type fakeTools struct{}

func (fakeTools) Invoke(ctx context.Context, req toolregistry.InvokeRequest) (map[string]interface{}, error) {
	return map[string]interface{}{"ok": true}, nil
}

func (fakeTools) Cancel(invocationID string) error { return nil }

func testDeps(runner *scriptedRunner, agents map[string]session.AgentSpec) Deps {
	return Deps{
		Checkpoints: checkpoint.NewMemory(),
		Events:      eventbus.NewMemoryEventBus(logger.Default()),
		Assembler:   fakeAssembler{},
		Runner:      runner,
		Tools:       fakeTools{},
		Agents:      agents,
		Logger:      logger.Default(),
	}
}

func baseAgents() map[string]session.AgentSpec {
	return map[string]session.AgentSpec{
		AgentInputValidator:    {Name: AgentInputValidator},
		AgentTaskPlanner:       {Name: AgentTaskPlanner},
		AgentResultSynthesizer: {Name: AgentResultSynthesizer},
		"answer_agent":         {Name: "answer_agent"},
		"form_agent":           {Name: "form_agent"},
	}
}

func onePlannedStep(title, agentName string) agentrunner.Action {
	return agentrunner.Action{
		Kind: agentrunner.ActionFinishStep,
		Output: map[string]interface{}{
			"steps": []interface{}{
				map[string]interface{}{"title": title, "agent_name": agentName},
			},
		},
	}
}

func TestOrchestrator_SimpleQandA_ReachesTerminal(t *testing.T) {
	runner := newScriptedRunner()
	runner.script(AgentInputValidator, agentrunner.Action{Kind: agentrunner.ActionFinishStep})
	runner.script(AgentTaskPlanner, onePlannedStep("Answer the question", "answer_agent"))
	runner.script("answer_agent", agentrunner.Action{Kind: agentrunner.ActionFinishStep, Output: map[string]interface{}{"answer": "Paris"}})
	runner.script(AgentResultSynthesizer, agentrunner.Action{Kind: agentrunner.ActionEmitMarkdown, Text: "Paris is the capital of France."})

	o := New(testDeps(runner, baseAgents()))
	err := o.SubmitUserMessage(context.Background(), "acme", "sess-1", "what is the capital of France?", nil)
	require.NoError(t, err)

	cp, err := o.deps.Checkpoints.LoadLatest(context.Background(), "acme", "sess-1")
	require.NoError(t, err)
	sess, err := decodeSession(cp.Blob)
	require.NoError(t, err)

	assert.Equal(t, session.StateTerminal, sess.State)
	require.Len(t, sess.PlanSteps, 1)
	assert.Equal(t, session.StepSucceeded, sess.PlanSteps[0].Status)
}

func TestOrchestrator_RejectedValidation_ReturnsToIdle(t *testing.T) {
	runner := newScriptedRunner()
	runner.script(AgentInputValidator, agentrunner.Action{Kind: agentrunner.ActionEmitMarkdown, Text: "I can't help with that."})

	o := New(testDeps(runner, baseAgents()))
	err := o.SubmitUserMessage(context.Background(), "acme", "sess-2", "do something unsafe", nil)
	require.NoError(t, err)

	cp, err := o.deps.Checkpoints.LoadLatest(context.Background(), "acme", "sess-2")
	require.NoError(t, err)
	sess, err := decodeSession(cp.Blob)
	require.NoError(t, err)
	assert.Equal(t, session.StateIdle, sess.State)
	assert.Empty(t, sess.PlanSteps)
}

func TestOrchestrator_FormRequestSuspendsThenResumes(t *testing.T) {
	runner := newScriptedRunner()
	runner.script(AgentInputValidator, agentrunner.Action{Kind: agentrunner.ActionFinishStep})
	runner.script(AgentTaskPlanner, onePlannedStep("Create the PO", "form_agent"))
	runner.script("form_agent",
		agentrunner.Action{Kind: agentrunner.ActionRequestForm, FormSpec: map[string]interface{}{
			"title":  "Confirm supplier",
			"fields": []interface{}{map[string]interface{}{"type": "text", "key": "supplier", "label": "Supplier"}},
		}},
		agentrunner.Action{Kind: agentrunner.ActionFinishStep, Output: map[string]interface{}{"po": "PO-1"}},
	)
	runner.script(AgentResultSynthesizer, agentrunner.Action{Kind: agentrunner.ActionEmitMarkdown, Text: "PO-1 created."})

	o := New(testDeps(runner, baseAgents()))
	ctx := context.Background()
	err := o.SubmitUserMessage(ctx, "acme", "sess-3", "create PO from this pdf", nil)
	require.NoError(t, err)

	cp, err := o.deps.Checkpoints.LoadLatest(ctx, "acme", "sess-3")
	require.NoError(t, err)
	sess, err := decodeSession(cp.Blob)
	require.NoError(t, err)
	require.Equal(t, session.StateAwaitingHuman, sess.State)
	require.NotEmpty(t, sess.PendingFormID)
	require.Equal(t, session.StepAwaitingUser, sess.PlanSteps[sess.CurrentStepIndex].Status)
	formID := sess.PendingFormID

	err = o.SubmitFormReply(ctx, "acme", "sess-3", formID, map[string]interface{}{"supplier": "S1"})
	require.NoError(t, err)

	cp, err = o.deps.Checkpoints.LoadLatest(ctx, "acme", "sess-3")
	require.NoError(t, err)
	sess, err = decodeSession(cp.Blob)
	require.NoError(t, err)
	assert.Equal(t, session.StateTerminal, sess.State)
	assert.Equal(t, session.StepSucceeded, sess.PlanSteps[0].Status)

	// a second reply to the same (now-answered) form id is rejected and
	// does not mutate state.
	err = o.SubmitFormReply(ctx, "acme", "sess-3", formID, map[string]interface{}{"supplier": "S2"})
	assert.ErrorIs(t, err, ErrDuplicateFormReply)

	cpAfter, err := o.deps.Checkpoints.LoadLatest(ctx, "acme", "sess-3")
	require.NoError(t, err)
	assert.Equal(t, cp.Version, cpAfter.Version, "duplicate form reply must not create a new checkpoint version")
}

func TestOrchestrator_CancelOnIdleIsNoop(t *testing.T) {
	o := New(testDeps(newScriptedRunner(), baseAgents()))
	err := o.Cancel(context.Background(), "acme", "sess-4")
	require.NoError(t, err)

	_, err = o.deps.Checkpoints.LoadLatest(context.Background(), "acme", "sess-4")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound, "cancel on an idle session with no history must not create a checkpoint")
}

func TestOrchestrator_ToolFailurePropagatesThroughRecoveringToSkip(t *testing.T) {
	runner := newScriptedRunner()
	runner.script(AgentInputValidator, agentrunner.Action{Kind: agentrunner.ActionFinishStep})
	runner.script(AgentTaskPlanner, onePlannedStep("Search orders", "answer_agent"))
	// answer_agent fails on every attempt; with no human_reviewer agent
	// configured, Recovering retries up to DefaultMaxStepRetries times
	// before skipping the step.
	failure := agentrunner.Action{Kind: agentrunner.ActionFailStep, Reason: "could not find a matching order"}
	runner.script("answer_agent", failure, failure, failure)
	runner.script(AgentResultSynthesizer, agentrunner.Action{Kind: agentrunner.ActionEmitMarkdown, Text: "No matching orders were found."})

	o := New(testDeps(runner, baseAgents()))
	err := o.SubmitUserMessage(context.Background(), "acme", "sess-5", "search recent orders for ACME", nil)
	require.NoError(t, err)

	cp, err := o.deps.Checkpoints.LoadLatest(context.Background(), "acme", "sess-5")
	require.NoError(t, err)
	sess, err := decodeSession(cp.Blob)
	require.NoError(t, err)
	assert.Equal(t, session.StateTerminal, sess.State)
	assert.Equal(t, session.StepSkipped, sess.PlanSteps[0].Status)
}
