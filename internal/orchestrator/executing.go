package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kandev/orcad/internal/agentrunner"
	"github.com/kandev/orcad/internal/eventbus"
	"github.com/kandev/orcad/internal/toolregistry"
	"github.com/kandev/orcad/internal/wire"
	"github.com/kandev/orcad/pkg/session"
)

// runExecuting drives sess.PlanSteps[sess.CurrentStepIndex] by repeatedly
// invoking its bound agent and applying each returned action, until the
// step ends (finish_step, fail_step, request_form) or delegates to a new
// agent and keeps running.
func (o *Orchestrator) runExecuting(ctx context.Context, sess *session.Session) error {
	for turn := 0; turn < maxActionsPerStep; turn++ {
		if ctx.Err() != nil {
			return o.cancelInFlight(ctx, sess)
		}

		idx := sess.CurrentStepIndex
		step := sess.PlanSteps[idx]
		if step.Status != session.StepRunning {
			step.Status = session.StepRunning
			now := time.Now().UTC()
			step.StartedAt = &now
			sess.PlanSteps[idx] = step
		}

		action, err := o.runAgentTurn(ctx, sess, step, step.AgentName)
		if err != nil {
			if ctx.Err() != nil {
				return o.cancelInFlight(ctx, sess)
			}
			return o.internalFailure(ctx, sess, fmt.Errorf("executing step %d: %w", idx, err))
		}

		done, err := o.applyExecutingAction(ctx, sess, idx, action)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return o.failStep(ctx, sess, sess.CurrentStepIndex, "exceeded the per-step action limit without finishing")
}

// applyExecutingAction applies one action to the current step. It returns
// done=true when runExecuting should stop looping: the step suspended
// (request_form), ended (finish_step/fail_step, which may itself recurse
// into the next step or Recovering), or the session was cancelled.
func (o *Orchestrator) applyExecutingAction(ctx context.Context, sess *session.Session, idx int, action agentrunner.Action) (bool, error) {
	step := sess.PlanSteps[idx]

	switch action.Kind {
	case agentrunner.ActionEmitMarkdown:
		return false, o.commit(ctx, sess,
			[]session.Message{newMessage(sess, session.RoleAgent, session.KindAgentMarkdown, step.ID, action.Text, "")},
			session.StateExecuting, []*eventbus.Event{markdownEvent(action.Text)})

	case agentrunner.ActionEmitProgress:
		return false, o.commit(ctx, sess,
			[]session.Message{newMessage(sess, session.RoleAgent, session.KindAgentProgress, step.ID, action.Status, "")},
			session.StateExecuting, []*eventbus.Event{progressEvent(wire.ProgressData{Status: action.Status}, false)})

	case agentrunner.ActionCallTool:
		return false, o.invokeTool(ctx, sess, step, action)

	case agentrunner.ActionRequestForm:
		return true, o.suspendForForm(ctx, sess, idx, action)

	case agentrunner.ActionDelegate:
		step.AgentName = action.AgentName
		sess.PlanSteps[idx] = step
		note := fmt.Sprintf("delegated to %s", action.AgentName)
		return false, o.commit(ctx, sess,
			[]session.Message{newMessage(sess, session.RoleSystem, session.KindSystemNote, step.ID, note, "")},
			session.StateExecuting, nil)

	case agentrunner.ActionFinishStep:
		return true, o.finishStep(ctx, sess, idx, action)

	case agentrunner.ActionFailStep:
		return true, o.failStep(ctx, sess, idx, action.Reason)

	default:
		return true, o.internalFailure(ctx, sess, fmt.Errorf("executing: unhandled action kind %q", action.Kind))
	}
}

func (o *Orchestrator) invokeTool(ctx context.Context, sess *session.Session, step session.PlanStep, action agentrunner.Action) error {
	invocationID := uuid.NewString()
	callMsg := newMessage(sess, session.RoleAgent, session.KindToolCall, step.ID, action.ToolName, invocationID)
	if err := o.commit(ctx, sess, []session.Message{callMsg}, session.StateExecuting, nil); err != nil {
		return err
	}

	out, err := o.deps.Tools.Invoke(ctx, toolregistry.InvokeRequest{
		SessionID:    sess.ID,
		InvocationID: invocationID,
		Tool:         action.ToolName,
		Inputs:       action.ToolInputs,
	})
	if err != nil {
		return o.failStep(ctx, sess, sess.CurrentStepIndex, fmt.Sprintf("tool %s failed: %v", action.ToolName, err))
	}

	resultMsg := newMessage(sess, session.RoleTool, session.KindToolResult, step.ID, fmt.Sprintf("%v", out), invocationID)
	return o.commit(ctx, sess, []session.Message{resultMsg}, session.StateExecuting, nil)
}

func (o *Orchestrator) finishStep(ctx context.Context, sess *session.Session, idx int, action agentrunner.Action) error {
	step := sess.PlanSteps[idx]
	step.Status = session.StepSucceeded
	step.OutputRef = action.Output
	now := time.Now().UTC()
	step.EndedAt = &now
	sess.PlanSteps[idx] = step

	msgs := []session.Message{newMessage(sess, session.RoleSystem, session.KindSystemNote, step.ID, "step finished", "")}

	if idx == len(sess.PlanSteps)-1 {
		if err := o.commit(ctx, sess, msgs, session.StateExecuting, nil); err != nil {
			return err
		}
		return o.handleSynthesizing(ctx, sess)
	}

	if err := o.commit(ctx, sess, msgs, session.StateExecuting, nil); err != nil {
		return err
	}
	sess.CurrentStepIndex = idx + 1
	return o.runExecuting(ctx, sess)
}

func (o *Orchestrator) failStep(ctx context.Context, sess *session.Session, idx int, reason string) error {
	step := sess.PlanSteps[idx]
	step.Status = session.StepFailed
	now := time.Now().UTC()
	step.EndedAt = &now
	sess.PlanSteps[idx] = step

	msg := newMessage(sess, session.RoleSystem, session.KindSystemNote, step.ID, "step failed: "+reason, "")
	if err := o.commit(ctx, sess, []session.Message{msg}, session.StateRecovering, nil); err != nil {
		return err
	}
	return o.handleRecovering(ctx, sess, idx, reason)
}

// cancelInFlight discards the current turn and returns the session to
// Idle, recording a cancelled note. Used when ctx is already done (an
// external Cancel fired mid-turn).
func (o *Orchestrator) cancelInFlight(ctx context.Context, sess *session.Session) error {
	commitCtx := context.Background()
	msg := newMessage(sess, session.RoleSystem, session.KindSystemNote, "", "cancelled", "")
	sess.CurrentStepIndex = -1
	sess.PendingFormID = ""
	return o.commit(commitCtx, sess,
		[]session.Message{msg}, session.StateIdle,
		[]*eventbus.Event{markdownEvent("Cancelled.")},
	)
}
