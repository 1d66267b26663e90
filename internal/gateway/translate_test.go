package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/orcad/internal/eventbus"
	"github.com/kandev/orcad/internal/wire"
)

func TestEventToEnvelope_Markdown(t *testing.T) {
	ev := eventbus.NewEvent(string(wire.TypeMarkdown), "orchestrator", map[string]interface{}{"payload": "hello"})

	env, err := eventToEnvelope(ev)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeMarkdown, env.Type)

	var payload wire.MarkdownPayload
	require.NoError(t, decodeJSON(env.Payload, &payload))
	assert.Equal(t, "hello", payload)
}

func TestEventToEnvelope_Progress(t *testing.T) {
	ev := eventbus.NewEvent(string(wire.TypeComponent), "orchestrator", map[string]interface{}{
		"component":  string(wire.ComponentProgress),
		"status":     "executing",
		"stepIndex":  1,
		"totalSteps": 3,
	})

	env, err := eventToEnvelope(ev)
	require.NoError(t, err)

	_, data, err := splitComponent(env)
	require.NoError(t, err)
	var progress wire.ProgressData
	require.NoError(t, decodeJSON(data, &progress))
	assert.Equal(t, "executing", progress.Status)
	require.NotNil(t, progress.StepIndex)
	assert.Equal(t, 1, *progress.StepIndex)
	require.NotNil(t, progress.TotalSteps)
	assert.Equal(t, 3, *progress.TotalSteps)
}

func TestEventToEnvelope_FormRequest(t *testing.T) {
	form := wire.FormEnvelope{
		ID:    "f1",
		Title: "Confirm supplier",
		Fields: []wire.Field{
			{Type: wire.FieldText, Key: "supplier", Label: "Supplier"},
		},
	}
	ev := eventbus.NewEvent(string(wire.TypeComponent), "orchestrator", map[string]interface{}{
		"component": string(wire.ComponentUIInteraction),
		"form":      form,
	})

	env, err := eventToEnvelope(ev)
	require.NoError(t, err)

	var interaction wire.UIInteractionData
	component, err := wire.DecodeComponent(env, &interaction)
	require.NoError(t, err)
	assert.Equal(t, wire.ComponentUIInteraction, component)
	require.NotNil(t, interaction.Form)
	assert.Equal(t, "f1", interaction.Form.ID)
	assert.Equal(t, "Confirm supplier", interaction.Form.Title)
}

func TestEventToEnvelope_UnknownTypeErrors(t *testing.T) {
	ev := eventbus.NewEvent("mystery", "orchestrator", map[string]interface{}{})
	_, err := eventToEnvelope(ev)
	assert.Error(t, err)
}

func decodeJSON(raw []byte, dst interface{}) error {
	return remarshal(json.RawMessage(raw), dst)
}

func splitComponent(env *wire.Envelope) (wire.ComponentName, []byte, error) {
	var cp wire.ComponentPayload
	if err := decodeJSON(env.Payload, &cp); err != nil {
		return "", nil, err
	}
	return cp.Component, cp.Data, nil
}
