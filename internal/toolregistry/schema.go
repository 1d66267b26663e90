package toolregistry

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// validateAgainstSchema resolves schema once per call and validates inputs
// against it. Resolution is cheap relative to a tool invocation, so this
// favors simplicity over caching a *jsonschema.Resolved per descriptor.
func validateAgainstSchema(schema *jsonschema.Schema, inputs map[string]interface{}) error {
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve input schema: %w", err)
	}
	if err := resolved.Validate(inputs); err != nil {
		return fmt.Errorf("input validation: %w", err)
	}
	return nil
}
