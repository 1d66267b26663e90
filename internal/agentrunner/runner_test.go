package agentrunner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/orcad/pkg/session"
)

type scriptedBackend struct {
	outputs [][]byte
	calls   int
	strict  []bool
}

func (b *scriptedBackend) RunTurn(ctx context.Context, req TurnRequest) ([]byte, error) {
	out := b.outputs[b.calls]
	b.strict = append(b.strict, req.Strict)
	b.calls++
	return out, nil
}

func marshalAction(t *testing.T, a Action) []byte {
	t.Helper()
	data, err := json.Marshal(a)
	require.NoError(t, err)
	return data
}

func TestRunner_ValidFirstAttemptSucceeds(t *testing.T) {
	backends := NewBackendRegistry()
	backend := &scriptedBackend{outputs: [][]byte{marshalAction(t, Action{Kind: ActionEmitMarkdown, Text: "hi"})}}
	backends.Register("test", backend)
	runner := NewRunner(backends)

	action, err := runner.Run(context.Background(), session.AgentSpec{ModelBackend: "test"}, session.ContextBundle{})
	require.NoError(t, err)
	assert.Equal(t, ActionEmitMarkdown, action.Kind)
	assert.Equal(t, "hi", action.Text)
	assert.Equal(t, 1, backend.calls)
}

func TestRunner_MalformedFirstAttemptRetriesOnceThenSucceeds(t *testing.T) {
	backends := NewBackendRegistry()
	backend := &scriptedBackend{outputs: [][]byte{
		[]byte(`{not json`),
		marshalAction(t, Action{Kind: ActionFinishStep, Output: map[string]interface{}{"ok": true}}),
	}}
	backends.Register("test", backend)
	runner := NewRunner(backends)

	action, err := runner.Run(context.Background(), session.AgentSpec{ModelBackend: "test"}, session.ContextBundle{})
	require.NoError(t, err)
	assert.Equal(t, ActionFinishStep, action.Kind)
	assert.Equal(t, 2, backend.calls)
	assert.False(t, backend.strict[0])
	assert.True(t, backend.strict[1])
}

func TestRunner_MalformedRetryBecomesPermanentError(t *testing.T) {
	backends := NewBackendRegistry()
	backend := &scriptedBackend{outputs: [][]byte{
		[]byte(`{not json`),
		[]byte(`{also not json`),
	}}
	backends.Register("test", backend)
	runner := NewRunner(backends)

	_, err := runner.Run(context.Background(), session.AgentSpec{ModelBackend: "test"}, session.ContextBundle{})
	require.Error(t, err)
	var malformed *ErrMalformedOutput
	require.ErrorAs(t, err, &malformed)
}

func TestRunner_UnknownBackendErrors(t *testing.T) {
	runner := NewRunner(NewBackendRegistry())
	_, err := runner.Run(context.Background(), session.AgentSpec{ModelBackend: "nope"}, session.ContextBundle{})
	assert.Error(t, err)
}

func TestParseAction_RejectsMissingRequiredKindFields(t *testing.T) {
	raw := marshalAction(t, Action{Kind: ActionCallTool})
	_, err := parseAction(raw)
	assert.Error(t, err, "call_tool without tool_name must fail validation")
}

func TestParseAction_RejectsUnknownKind(t *testing.T) {
	_, err := parseAction([]byte(`{"kind":"teleport"}`))
	assert.Error(t, err)
}
