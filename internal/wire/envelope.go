// Package wire defines the event envelope and form schema exchanged over
// the session transport in both directions: markdown chunks, progress and
// interaction components, inbound user messages, and control events.
package wire

import "encoding/json"

// Type names the top-level envelope kind.
type Type string

const (
	TypeMarkdown  Type = "markdown"
	TypeComponent Type = "component"
	TypeUserMsg   Type = "user_message"
	TypeControl   Type = "control"
)

// Envelope is the top-level message shape for both directions of the
// session transport.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MarkdownPayload is the bare string payload of a TypeMarkdown envelope. A
// logical message may be streamed as many frames.
type MarkdownPayload = string

// ComponentName names the kind of component payload.
type ComponentName string

const (
	ComponentProgress      ComponentName = "progress"
	ComponentUIInteraction ComponentName = "ui_interaction"
)

// ComponentPayload is the payload of a TypeComponent envelope.
type ComponentPayload struct {
	Component ComponentName   `json:"component"`
	Data      json.RawMessage `json:"data"`
}

// WorkflowFinishSentinel marks plan completion in a ProgressData.Status
// field, resolving the spec's open question in favor of a sentinel value
// rather than a distinct event type (for wire compatibility).
const WorkflowFinishSentinel = "_workflow_finish"

// ProgressData is the data of a progress component.
type ProgressData struct {
	Status     string `json:"status"`
	StepIndex  *int   `json:"stepIndex,omitempty"`
	TotalSteps *int   `json:"totalSteps,omitempty"`
}

// UIInteractionData is the data of a ui_interaction component, covering
// outbound form requests, inbound form replies, and async select queries.
type UIInteractionData struct {
	Form  *FormEnvelope `json:"form,omitempty"`
	Query *AsyncQuery   `json:"query,omitempty"`
}

// FormEnvelope carries either an outbound form spec (Fields populated) or
// an inbound reply (Values populated) keyed by the same form ID.
type FormEnvelope struct {
	ID     string                 `json:"id"`
	Title  string                 `json:"title,omitempty"`
	Fields []Field                `json:"fields,omitempty"`
	Values map[string]interface{} `json:"values,omitempty"`
}

// FieldType enumerates the supported form field kinds.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldSelect   FieldType = "select"
	FieldNumber   FieldType = "number"
	FieldCheckbox FieldType = "checkbox"
	FieldDate     FieldType = "date"
	FieldFile     FieldType = "file"
)

// Field describes one form field.
type Field struct {
	Type        FieldType        `json:"type"`
	Key         string           `json:"key"`
	Label       string           `json:"label"`
	Required    bool             `json:"required,omitempty"`
	Placeholder string           `json:"placeholder,omitempty"`
	Validation  []FieldValidator `json:"validation,omitempty"`
	Options     []SelectOption   `json:"options,omitempty"`
	Async       bool             `json:"async,omitempty"`
	DataSource  *AsyncDataSource `json:"dataSource,omitempty"`
}

// FieldValidator is one client-side validation rule.
type FieldValidator struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SelectOption is one static option of a select field.
type SelectOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// AsyncDataSource configures an async-populated select field.
type AsyncDataSource struct {
	Provider   string `json:"provider"`
	MinChars   int    `json:"minChars,omitempty"`
	DebounceMS int    `json:"debounceMs,omitempty"`
	PageSize   int    `json:"pageSize,omitempty"`
}

// AsyncQuery is an outbound lookup request for an async select field.
type AsyncQuery struct {
	FormID   string `json:"formId"`
	FieldKey string `json:"fieldKey"`
	Term     string `json:"term"`
	Page     int    `json:"page"`
}

// AsyncQueryResult answers an AsyncQuery.
type AsyncQueryResult struct {
	Results []SelectOption `json:"results"`
	HasMore bool           `json:"hasMore"`
}

// UserMessagePayload is the payload of a TypeUserMsg envelope.
type UserMessagePayload struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment references an out-of-band artifact attached to a user message.
type Attachment struct {
	Kind string `json:"kind"`
	Ref  string `json:"ref"`
}

// ControlAction enumerates inbound control actions.
type ControlAction string

const (
	ControlCancel ControlAction = "cancel"
	ControlClose  ControlAction = "close"
)

// ControlPayload is the payload of a TypeControl envelope.
type ControlPayload struct {
	Action ControlAction `json:"action"`
}
