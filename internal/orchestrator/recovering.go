package orchestrator

import (
	"context"
	"fmt"

	"github.com/kandev/orcad/internal/agentrunner"
	"github.com/kandev/orcad/internal/eventbus"
	"github.com/kandev/orcad/pkg/session"
)

// handleRecovering decides retry, skip, or abort for the step that just
// failed and applies it. When a human_reviewer agent is configured it
// decides; otherwise a bounded-retry-then-skip policy applies.
func (o *Orchestrator) handleRecovering(ctx context.Context, sess *session.Session, idx int, failReason string) error {
	step := sess.PlanSteps[idx]
	decision, explanation := o.decideRecovery(ctx, sess, step, failReason)
	msg := newMessage(sess, session.RoleAgent, session.KindAgentMarkdown, step.ID, explanation, "")

	switch decision {
	case "retry":
		sess.StepRetries[step.ID]++
		step.Status = session.StepPending
		step.StartedAt = nil
		step.EndedAt = nil
		sess.PlanSteps[idx] = step
		if err := o.commit(ctx, sess, []session.Message{msg}, session.StateExecuting, []*eventbus.Event{markdownEvent(explanation)}); err != nil {
			return err
		}
		sess.CurrentStepIndex = idx
		return o.runExecuting(ctx, sess)

	case "skip":
		step.Status = session.StepSkipped
		sess.PlanSteps[idx] = step
		if err := o.commit(ctx, sess, []session.Message{msg}, session.StateExecuting, []*eventbus.Event{markdownEvent(explanation)}); err != nil {
			return err
		}
		if idx == len(sess.PlanSteps)-1 {
			return o.handleSynthesizing(ctx, sess)
		}
		sess.CurrentStepIndex = idx + 1
		return o.runExecuting(ctx, sess)

	default: // abort
		sess.CurrentStepIndex = -1
		return o.commit(ctx, sess, []session.Message{msg}, session.StateIdle, []*eventbus.Event{markdownEvent(explanation)})
	}
}

// decideRecovery asks human_reviewer for a decision when one is
// configured, falling back to the bounded-retry policy if it declines to
// name one or isn't configured at all.
func (o *Orchestrator) decideRecovery(ctx context.Context, sess *session.Session, step session.PlanStep, failReason string) (string, string) {
	if _, ok := o.deps.Agents[AgentHumanReviewer]; ok {
		rstep := syntheticStep(sess, "recover-"+step.ID, failReason, AgentHumanReviewer)
		action, err := o.runAgentTurn(ctx, sess, rstep, AgentHumanReviewer)
		if err == nil {
			if action.Kind == agentrunner.ActionFinishStep {
				if d, _ := action.Output["decision"].(string); d != "" {
					return d, fmt.Sprintf("Step %q failed: %s. Decision: %s.", step.Title, failReason, d)
				}
			}
			if action.Kind == agentrunner.ActionEmitMarkdown && action.Text != "" {
				return o.defaultDecision(sess, step), action.Text
			}
		}
	}
	decision := o.defaultDecision(sess, step)
	return decision, fmt.Sprintf("Step %q failed: %s. %s.", step.Title, failReason, recoveryNarration(decision))
}

// defaultDecision applies the workflows catalog's recoveryPolicy for
// step.AgentName when one is configured; "retry_bounded" (and an
// unconfigured agent) fall back to the bounded-retry-then-skip policy.
func (o *Orchestrator) defaultDecision(sess *session.Session, step session.PlanStep) string {
	switch o.deps.RecoveryPolicy[step.AgentName] {
	case "skip":
		return "skip"
	case "abort":
		return "abort"
	}
	if sess.StepRetries[step.ID] < o.deps.MaxStepRetries {
		return "retry"
	}
	return "skip"
}

func recoveryNarration(decision string) string {
	switch decision {
	case "retry":
		return "Retrying"
	case "skip":
		return "Skipping this step"
	default:
		return "Aborting the plan"
	}
}
