package wire

import (
	"encoding/json"
	"testing"
)

func TestNewMarkdown_RoundTrips(t *testing.T) {
	env, err := NewMarkdown("hello")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if env.Type != TypeMarkdown {
		t.Errorf("expected type markdown, got %s", env.Type)
	}

	var text string
	if err := json.Unmarshal(env.Payload, &text); err != nil {
		t.Fatalf("expected a bare string payload, got %s: %v", env.Payload, err)
	}
	if text != "hello" {
		t.Errorf("expected payload %q, got %q", "hello", text)
	}
}

func TestNewFormRequest_DecodesBack(t *testing.T) {
	form := FormEnvelope{ID: "f1", Fields: []Field{{Type: FieldText, Key: "name", Label: "Name", Required: true}}}
	env, err := NewFormRequest(form)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var data UIInteractionData
	name, err := DecodeComponent(env, &data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if name != ComponentUIInteraction {
		t.Errorf("expected ui_interaction, got %s", name)
	}
	if data.Form == nil || data.Form.ID != "f1" {
		t.Fatalf("expected form id f1, got %+v", data.Form)
	}
	if len(data.Form.Fields) != 1 || data.Form.Fields[0].Key != "name" {
		t.Errorf("expected one field 'name', got %+v", data.Form.Fields)
	}
}

func TestNewProgress_SentinelRoundTrips(t *testing.T) {
	env, err := NewProgress(ProgressData{Status: WorkflowFinishSentinel})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var data ProgressData
	if _, err := DecodeComponent(env, &data); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if data.Status != WorkflowFinishSentinel {
		t.Errorf("expected sentinel status, got %q", data.Status)
	}
}

func TestNewControl_EncodesAction(t *testing.T) {
	env, err := NewControl(ControlCancel)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if env.Type != TypeControl {
		t.Errorf("expected type control, got %s", env.Type)
	}
}
