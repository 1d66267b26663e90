package agentrunner

import (
	"encoding/json"
	"fmt"

	invopopjs "github.com/invopop/jsonschema"

	gojs "github.com/google/jsonschema-go/jsonschema"
)

// actionSchemaDef is generated once from the Action struct's tags and
// resolved/validated on every call, mirroring toolregistry's
// validateAgainstSchema. Generation uses invopop/jsonschema (the
// reflection-based generator); validation uses google/jsonschema-go (the
// same validator already wired for tool input/output schemas), so one
// library produces the schema and the other enforces it.
var actionSchemaDef *gojs.Schema

func init() {
	reflector := &invopopjs.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	raw := reflector.Reflect(&Action{})
	data, err := json.Marshal(raw)
	if err != nil {
		panic(fmt.Sprintf("agentrunner: marshal generated action schema: %v", err))
	}

	var schema gojs.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		panic(fmt.Sprintf("agentrunner: parse generated action schema: %v", err))
	}
	actionSchemaDef = &schema
}

// parseAction decodes and validates a model turn's raw JSON output against
// the generated action schema, then checks the kind-specific fields the
// schema alone can't express (e.g. tool_name required only for call_tool).
func parseAction(raw []byte) (Action, error) {
	var asMap map[string]interface{}
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return Action{}, fmt.Errorf("malformed action output: %w", err)
	}
	resolved, err := actionSchemaDef.Resolve(nil)
	if err != nil {
		return Action{}, fmt.Errorf("resolve action schema: %w", err)
	}
	if err := resolved.Validate(asMap); err != nil {
		return Action{}, fmt.Errorf("action failed schema validation: %w", err)
	}

	var action Action
	if err := json.Unmarshal(raw, &action); err != nil {
		return Action{}, fmt.Errorf("malformed action output: %w", err)
	}
	if !validKinds[action.Kind] {
		return Action{}, fmt.Errorf("unknown action kind %q", action.Kind)
	}
	if err := checkKindFields(action); err != nil {
		return Action{}, err
	}
	return action, nil
}

func checkKindFields(a Action) error {
	switch a.Kind {
	case ActionEmitMarkdown:
		if a.Text == "" {
			return fmt.Errorf("emit_markdown requires text")
		}
	case ActionEmitProgress:
		if a.Status == "" {
			return fmt.Errorf("emit_progress requires status")
		}
	case ActionCallTool:
		if a.ToolName == "" {
			return fmt.Errorf("call_tool requires tool_name")
		}
	case ActionRequestForm:
		if a.FormSpec == nil {
			return fmt.Errorf("request_form requires form_spec")
		}
	case ActionDelegate:
		if a.AgentName == "" {
			return fmt.Errorf("delegate requires agent_name")
		}
	case ActionFailStep:
		if a.Reason == "" {
			return fmt.Errorf("fail_step requires reason")
		}
	}
	return nil
}
