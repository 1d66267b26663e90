package orchestrator

import (
	"context"

	"github.com/kandev/orcad/internal/eventbus"
	"github.com/kandev/orcad/pkg/session"
)

// internalFailure records an internal error (invariant violated, backend
// wiring broken) and aborts the session: it checkpoints a terminal error
// record and surfaces a short markdown reason, then returns origErr so the
// caller's Dispatch observes the failure.
func (o *Orchestrator) internalFailure(ctx context.Context, sess *session.Session, origErr error) error {
	note := newMessage(sess, session.RoleSystem, session.KindSystemNote, "", "internal: "+origErr.Error(), "")
	markdown := newMessage(sess, session.RoleAgent, session.KindAgentMarkdown, "", "Something went wrong processing your request.", "")

	sess.CurrentStepIndex = -1
	sess.PendingFormID = ""
	_ = o.commit(ctx, sess,
		[]session.Message{note, markdown},
		session.StateIdle,
		[]*eventbus.Event{markdownEvent("Something went wrong processing your request.")},
	)
	return origErr
}
