package wire

import (
	"encoding/json"
	"fmt"
)

// NewMarkdown builds a markdown envelope. The payload is the bare markdown
// string, not a wrapped object.
func NewMarkdown(text string) (*Envelope, error) {
	return encode(TypeMarkdown, text)
}

// NewProgress builds a progress component envelope.
func NewProgress(data ProgressData) (*Envelope, error) {
	return encodeComponent(ComponentProgress, data)
}

// NewFormRequest builds an outbound ui_interaction envelope carrying a form spec.
func NewFormRequest(form FormEnvelope) (*Envelope, error) {
	return encodeComponent(ComponentUIInteraction, UIInteractionData{Form: &form})
}

// NewFormReply builds an inbound ui_interaction envelope carrying form values.
func NewFormReply(formID string, values map[string]interface{}) (*Envelope, error) {
	return encodeComponent(ComponentUIInteraction, UIInteractionData{
		Form: &FormEnvelope{ID: formID, Values: values},
	})
}

// NewUserMessage builds a user_message envelope.
func NewUserMessage(text string, attachments ...Attachment) (*Envelope, error) {
	return encode(TypeUserMsg, UserMessagePayload{Text: text, Attachments: attachments})
}

// NewControl builds a control envelope.
func NewControl(action ControlAction) (*Envelope, error) {
	return encode(TypeControl, ControlPayload{Action: action})
}

func encode(t Type, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s payload: %w", t, err)
	}
	return &Envelope{Type: t, Payload: data}, nil
}

func encodeComponent(name ComponentName, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s component data: %w", name, err)
	}
	return encode(TypeComponent, ComponentPayload{Component: name, Data: raw})
}

// DecodeComponent unmarshals an envelope's component payload and, when dst
// is non-nil, its nested data into dst, whatever the component kind.
func DecodeComponent(env *Envelope, dst interface{}) (ComponentName, error) {
	var cp ComponentPayload
	if err := json.Unmarshal(env.Payload, &cp); err != nil {
		return "", fmt.Errorf("wire: decode component envelope: %w", err)
	}
	if dst != nil {
		if err := json.Unmarshal(cp.Data, dst); err != nil {
			return cp.Component, fmt.Errorf("wire: decode component data: %w", err)
		}
	}
	return cp.Component, nil
}
