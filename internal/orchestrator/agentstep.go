package orchestrator

import (
	"context"
	"fmt"

	"github.com/kandev/orcad/internal/agentrunner"
	"github.com/kandev/orcad/internal/contextasm"
	"github.com/kandev/orcad/pkg/session"
)

// runAgentTurn assembles a ContextBundle for step against agentName's spec
// and drives one AgentRunner turn, returning its parsed Action.
func (o *Orchestrator) runAgentTurn(ctx context.Context, sess *session.Session, step session.PlanStep, agentName string) (agentrunner.Action, error) {
	spec, err := o.agentSpec(agentName)
	if err != nil {
		return agentrunner.Action{}, err
	}

	bundle, err := o.deps.Assembler.Assemble(ctx, contextasm.Request{
		Sess:        *sess,
		Step:        step,
		TargetAgent: spec,
		TokenBudget: o.deps.TokenBudget,
	})
	if err != nil {
		return agentrunner.Action{}, fmt.Errorf("orchestrator: assemble context: %w", err)
	}

	action, err := o.deps.Runner.Run(ctx, spec, bundle)
	if err != nil {
		return agentrunner.Action{}, err
	}
	return action, nil
}

// syntheticStep builds the ephemeral PlanStep the Validating, Planning, and
// Synthesizing phases present to the ContextAssembler: these phases aren't
// bound to a plan position, but the assembler's step-scoped filtering
// (tool results, form pairs) still needs a step id and title to key on.
func syntheticStep(sess *session.Session, id, title, agentName string) session.PlanStep {
	return session.PlanStep{
		ID:        id,
		SessionID: sess.ID,
		Title:     title,
		AgentName: agentName,
		Position:  -1,
		Status:    session.StepRunning,
	}
}
