package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/orcad/internal/eventbus"
	"github.com/kandev/orcad/pkg/session"
)

func decodeSession(blob []byte) (session.Session, error) {
	var sess session.Session
	if err := json.Unmarshal(blob, &sess); err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

func encodeSession(sess session.Session) ([]byte, error) {
	return json.Marshal(sess)
}

func newMessage(sess *session.Session, role session.Role, kind session.Kind, stepID, content, correlationID string) session.Message {
	return session.Message{
		ID:            uuid.NewString(),
		SessionID:     sess.ID,
		StepID:        stepID,
		Role:          role,
		Kind:          kind,
		Content:       content,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	}
}

// commit applies the transition discipline: append history, update state,
// checkpoint, and only then publish. If checkpointing fails the transition
// is not applied to the caller's sess value and no events are published,
// so a crash between append and checkpoint never leaves a published event
// without a durable record behind it.
func (o *Orchestrator) commit(ctx context.Context, sess *session.Session, newHistory []session.Message, newState session.State, events []*eventbus.Event) error {
	next := *sess
	next.History = append(append([]session.Message{}, sess.History...), newHistory...)
	next.State = newState
	next.Version = sess.Version + 1
	next.UpdatedAt = time.Now().UTC()

	blob, err := encodeSession(next)
	if err != nil {
		return fmt.Errorf("orchestrator: encode session: %w", err)
	}

	if _, err := o.deps.Checkpoints.Save(ctx, session.Checkpoint{
		Tenant:    next.Tenant,
		SessionID: next.ID,
		Version:   next.Version,
		StateTag:  newState,
		Blob:      blob,
		CreatedAt: next.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("orchestrator: save checkpoint: %w", err)
	}

	*sess = next

	subj := subject(sess.Tenant, sess.ID)
	for _, ev := range events {
		if err := o.deps.Events.Publish(ctx, subj, ev); err != nil {
			o.deps.Logger.Warn("orchestrator: publish event failed", zap.Error(err))
		}
	}
	return nil
}
