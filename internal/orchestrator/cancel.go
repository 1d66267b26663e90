package orchestrator

import (
	"context"

	"github.com/kandev/orcad/internal/eventbus"
	"github.com/kandev/orcad/pkg/session"
)

// handleCancel applies an explicit cancel control event. It is idempotent:
// a session already at rest (Idle or Terminal) is untouched. Because
// commands for one session are processed one at a time by that session's
// worker, any turn already in flight when Cancel fired was interrupted via
// its own context (see Dispatch.Cancel) and will have already settled back
// to Idle by the time this is dequeued; AwaitingHuman is the state this
// normally acts on.
func (o *Orchestrator) handleCancel(ctx context.Context, sess *session.Session) error {
	switch sess.State {
	case session.StateIdle, session.StateTerminal:
		return nil
	case session.StateAwaitingHuman:
		msg := newMessage(sess, session.RoleSystem, session.KindSystemNote, "", "form cancelled", sess.PendingFormID)
		sess.PendingFormID = ""
		sess.CurrentStepIndex = -1
		return o.commit(ctx, sess, []session.Message{msg}, session.StateIdle,
			[]*eventbus.Event{markdownEvent("Cancelled.")},
		)
	default:
		return o.cancelInFlight(ctx, sess)
	}
}
