package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kandev/orcad/internal/agentrunner"
	"github.com/kandev/orcad/internal/eventbus"
	"github.com/kandev/orcad/internal/wire"
	"github.com/kandev/orcad/pkg/session"
)

// ErrDuplicateFormReply is returned when a form_reply arrives for a form id
// that isn't the session's current outstanding one, covering both a second
// reply to an already-answered form and a reply that names the wrong form.
var ErrDuplicateFormReply = fmt.Errorf("orchestrator: form reply does not match an outstanding form_request")

// suspendForForm parses request_form's FormSpec, assigns it an id if the
// agent didn't supply one, and transitions the session to AwaitingHuman.
func (o *Orchestrator) suspendForForm(ctx context.Context, sess *session.Session, idx int, action agentrunner.Action) error {
	form, err := decodeForm(action.FormSpec)
	if err != nil {
		return o.internalFailure(ctx, sess, fmt.Errorf("request_form: %w", err))
	}
	if form.ID == "" {
		form.ID = uuid.NewString()
	}

	step := sess.PlanSteps[idx]
	data, err := json.Marshal(form)
	if err != nil {
		return o.internalFailure(ctx, sess, fmt.Errorf("request_form: encode form: %w", err))
	}
	msg := newMessage(sess, session.RoleAgent, session.KindAgentFormRequest, step.ID, string(data), form.ID)

	sess.PlanSteps[idx].Status = session.StepAwaitingUser
	sess.PendingFormID = form.ID
	return o.commit(ctx, sess, []session.Message{msg}, session.StateAwaitingHuman,
		[]*eventbus.Event{formRequestEvent(form)},
	)
}

func decodeForm(spec map[string]interface{}) (wire.FormEnvelope, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return wire.FormEnvelope{}, err
	}
	var form wire.FormEnvelope
	if err := json.Unmarshal(data, &form); err != nil {
		return wire.FormEnvelope{}, fmt.Errorf("decode form spec: %w", err)
	}
	return form, nil
}

// handleFormReply resumes a session suspended in AwaitingHuman. A reply
// whose id doesn't match the session's single outstanding form_request is
// rejected as validation and does not mutate state, so a duplicate reply
// (including a legitimate replay after restart) is a safe no-op.
func (o *Orchestrator) handleFormReply(ctx context.Context, sess *session.Session, formID string, values map[string]interface{}) error {
	if sess.State != session.StateAwaitingHuman || sess.PendingFormID != formID {
		return ErrDuplicateFormReply
	}

	idx := sess.CurrentStepIndex
	step := sess.PlanSteps[idx]
	data, err := json.Marshal(values)
	if err != nil {
		return o.internalFailure(ctx, sess, fmt.Errorf("form_reply: encode values: %w", err))
	}
	msg := newMessage(sess, session.RoleUser, session.KindUserFormReply, step.ID, string(data), formID)

	sess.PlanSteps[idx].Status = session.StepRunning
	sess.PendingFormID = ""
	if err := o.commit(ctx, sess, []session.Message{msg}, session.StateExecuting, nil); err != nil {
		return err
	}
	return o.runExecuting(ctx, sess)
}
