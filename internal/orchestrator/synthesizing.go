package orchestrator

import (
	"context"
	"fmt"

	"github.com/kandev/orcad/internal/agentrunner"
	"github.com/kandev/orcad/internal/eventbus"
	"github.com/kandev/orcad/internal/wire"
	"github.com/kandev/orcad/pkg/session"
)

// handleSynthesizing runs result_synthesizer over the completed plan and
// emits the final markdown and _workflow_finish sentinel, then settles in
// Terminal.
func (o *Orchestrator) handleSynthesizing(ctx context.Context, sess *session.Session) error {
	if err := o.commit(ctx, sess, nil, session.StateSynthesizing, nil); err != nil {
		return err
	}

	step := syntheticStep(sess, "synthesize", sess.Objective, AgentResultSynthesizer)
	action, err := o.runAgentTurn(ctx, sess, step, AgentResultSynthesizer)
	if err != nil {
		return o.internalFailure(ctx, sess, fmt.Errorf("synthesizing: %w", err))
	}

	final := action.Text
	if action.Kind == agentrunner.ActionFinishStep {
		if s, ok := action.Output["summary"].(string); ok {
			final = s
		}
	}

	history := []session.Message{
		newMessage(sess, session.RoleAgent, session.KindAgentMarkdown, step.ID, final, ""),
		newMessage(sess, session.RoleAgent, session.KindAgentWorkflowFin, step.ID, wire.WorkflowFinishSentinel, ""),
	}
	events := []*eventbus.Event{
		markdownEvent(final),
		progressEvent(wire.ProgressData{Status: wire.WorkflowFinishSentinel}, true),
	}

	sess.CurrentStepIndex = -1
	return o.commit(ctx, sess, history, session.StateTerminal, events)
}
