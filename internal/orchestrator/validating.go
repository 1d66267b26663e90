package orchestrator

import (
	"context"
	"fmt"

	"github.com/kandev/orcad/internal/agentrunner"
	"github.com/kandev/orcad/internal/eventbus"
	"github.com/kandev/orcad/internal/wire"
	"github.com/kandev/orcad/pkg/session"
)

// handleUserMessage drives a fresh inbound message through Validating and,
// on acceptance, into Planning. It requires the session to be Idle or
// Terminal: Terminal is a resting state that accepts the next message the
// same way Idle does.
func (o *Orchestrator) handleUserMessage(ctx context.Context, sess *session.Session, text string, attachments []wire.Attachment) error {
	if sess.State != session.StateIdle && sess.State != session.StateTerminal {
		return fmt.Errorf("orchestrator: session %s is mid-plan (state=%s), cannot accept a new message", sess.ID, sess.State)
	}

	history := []session.Message{newMessage(sess, session.RoleUser, session.KindUserText, "", text, "")}
	for _, att := range attachments {
		history = append(history, newMessage(sess, session.RoleUser, session.KindUserAttachmentRef, "", att.Ref, ""))
	}

	sess.Objective = text

	if err := o.commit(ctx, sess, history, session.StateValidating, []*eventbus.Event{
		progressEvent(wire.ProgressData{Status: "Analyzing your request..."}, false),
	}); err != nil {
		return err
	}

	step := syntheticStep(sess, "validate", "validate user request", AgentInputValidator)
	action, err := o.runAgentTurn(ctx, sess, step, AgentInputValidator)
	if err != nil {
		return o.internalFailure(ctx, sess, fmt.Errorf("validating: %w", err))
	}

	if action.Kind == agentrunner.ActionEmitMarkdown || action.Kind == agentrunner.ActionFailStep {
		reason := action.Text
		if reason == "" {
			reason = action.Reason
		}
		if err := o.commit(ctx, sess,
			[]session.Message{newMessage(sess, session.RoleAgent, session.KindAgentMarkdown, step.ID, reason, "")},
			session.StateIdle,
			[]*eventbus.Event{markdownEvent(reason)},
		); err != nil {
			return err
		}
		return nil
	}

	return o.handlePlanning(ctx, sess)
}
