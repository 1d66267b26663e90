package orchestrator

import (
	"context"
	"sync"

	"github.com/kandev/orcad/internal/wire"
)

// commandKind names one inbound control message a session worker consumes.
type commandKind string

const (
	cmdUserMessage commandKind = "user_message"
	cmdFormReply   commandKind = "form_reply"
	cmdCancel      commandKind = "cancel"
)

type command struct {
	kind        commandKind
	text        string
	attachments []wire.Attachment
	formID      string
	values      map[string]interface{}
	result      chan error
}

// sessionWorker gives one session a single goroutine that drains its inbox
// one command at a time, so state mutations for that session never race —
// the per-session serializing queue the concurrency model requires.
// Modeled on the teacher's broadcast hub: a register/dispatch channel plus
// a select loop, narrowed here to one session's own command stream instead
// of a shared fan-out.
type sessionWorker struct {
	tenant, sessionID string
	inbox             chan command

	mu         sync.Mutex
	cancelTurn context.CancelFunc
}

func newSessionWorker(tenant, sessionID string) *sessionWorker {
	return &sessionWorker{
		tenant:    tenant,
		sessionID: sessionID,
		inbox:     make(chan command, 32),
	}
}

func (w *sessionWorker) run(o *Orchestrator) {
	for cmd := range w.inbox {
		ctx, cancel := context.WithCancel(context.Background())
		w.mu.Lock()
		w.cancelTurn = cancel
		w.mu.Unlock()

		err := o.process(ctx, w.tenant, w.sessionID, cmd)

		w.mu.Lock()
		w.cancelTurn = nil
		w.mu.Unlock()
		cancel()

		if cmd.result != nil {
			cmd.result <- err
		}
	}
}

func (w *sessionWorker) interrupt() {
	w.mu.Lock()
	cancel := w.cancelTurn
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (o *Orchestrator) getWorker(tenant, sessionID string) *sessionWorker {
	key := sessionKey(tenant, sessionID)

	o.mu.Lock()
	defer o.mu.Unlock()
	if w, ok := o.workers[key]; ok {
		return w
	}
	w := newSessionWorker(tenant, sessionID)
	o.workers[key] = w
	go w.run(o)
	return w
}

func sessionKey(tenant, sessionID string) string {
	return tenant + "/" + sessionID
}

// process loads (or reconstructs) the session, applies one command, and
// lets the result fall out of the returned error.
func (o *Orchestrator) process(ctx context.Context, tenant, sessionID string, cmd command) error {
	sess, err := o.loadOrInit(ctx, tenant, sessionID)
	if err != nil {
		return err
	}

	switch cmd.kind {
	case cmdUserMessage:
		return o.handleUserMessage(ctx, &sess, cmd.text, cmd.attachments)
	case cmdFormReply:
		return o.handleFormReply(ctx, &sess, cmd.formID, cmd.values)
	case cmdCancel:
		return o.handleCancel(ctx, &sess)
	default:
		return nil
	}
}

// submit enqueues cmd on sessionID's worker and waits for it to run,
// bounded by ctx.
func (o *Orchestrator) submit(ctx context.Context, tenant, sessionID string, cmd command) error {
	cmd.result = make(chan error, 1)
	w := o.getWorker(tenant, sessionID)

	select {
	case w.inbox <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitUserMessage enqueues an inbound user_message for sessionID,
// blocking until the triggered plan run reaches Terminal, AwaitingHuman,
// or Idle (on rejection or cancellation).
func (o *Orchestrator) SubmitUserMessage(ctx context.Context, tenant, sessionID, text string, attachments []wire.Attachment) error {
	return o.submit(ctx, tenant, sessionID, command{kind: cmdUserMessage, text: text, attachments: attachments})
}

// SubmitFormReply enqueues an inbound form_reply for sessionID.
func (o *Orchestrator) SubmitFormReply(ctx context.Context, tenant, sessionID, formID string, values map[string]interface{}) error {
	return o.submit(ctx, tenant, sessionID, command{kind: cmdFormReply, formID: formID, values: values})
}

// Cancel interrupts any in-flight turn for sessionID and then applies the
// cancel control event to whatever state the session settles in. Calling
// Cancel on a session already at rest is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, tenant, sessionID string) error {
	w := o.getWorker(tenant, sessionID)
	w.interrupt()
	return o.submit(ctx, tenant, sessionID, command{kind: cmdCancel})
}
