package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/spf13/viper"

	"github.com/kandev/orcad/pkg/session"
)

// toolsFile is the on-disk shape of tools.yaml:
//
//	tools:
//	  - name: search_orders
//	    description: look up orders by customer name
//	    idempotent: true
//	    inputSchema: {type: object, properties: {customer: {type: string}}}
//	    outputSchema: {type: object}
//	    retry: {maxAttempts: 3, initialIntervalMs: 250, maxIntervalMs: 5000}
type toolsFile struct {
	Tools []toolEntry `mapstructure:"tools"`
}

type toolEntry struct {
	Name         string                 `mapstructure:"name"`
	Description  string                 `mapstructure:"description"`
	Idempotent   bool                   `mapstructure:"idempotent"`
	InputSchema  map[string]interface{} `mapstructure:"inputSchema"`
	OutputSchema map[string]interface{} `mapstructure:"outputSchema"`
	Retry        retryEntry             `mapstructure:"retry"`
}

type retryEntry struct {
	MaxAttempts       int `mapstructure:"maxAttempts"`
	InitialIntervalMS int `mapstructure:"initialIntervalMs"`
	MaxIntervalMS     int `mapstructure:"maxIntervalMs"`
}

func loadTools(path string) ([]session.ToolDescriptor, error) {
	if path == "" {
		return nil, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if isFileNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var file toolsFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}

	descriptors := make([]session.ToolDescriptor, 0, len(file.Tools))
	for _, t := range file.Tools {
		inSchema, err := toJSONSchema(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %q: input schema: %w", t.Name, err)
		}
		outSchema, err := toJSONSchema(t.OutputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %q: output schema: %w", t.Name, err)
		}
		descriptors = append(descriptors, session.ToolDescriptor{
			Name:         t.Name,
			Description:  t.Description,
			InputSchema:  inSchema,
			OutputSchema: outSchema,
			Idempotent:   t.Idempotent,
			RetryPolicy: session.RetryPolicy{
				MaxAttempts:     t.Retry.MaxAttempts,
				InitialInterval: time.Duration(t.Retry.InitialIntervalMS) * time.Millisecond,
				MaxInterval:     time.Duration(t.Retry.MaxIntervalMS) * time.Millisecond,
			},
		})
	}
	return descriptors, nil
}

// toJSONSchema round-trips a raw YAML-decoded map through JSON so it lands
// in jsonschema.Schema's own field set, rather than asking mapstructure to
// understand JSON Schema's keyword shape directly.
func toJSONSchema(raw map[string]interface{}) (*jsonschema.Schema, error) {
	if raw == nil {
		return nil, nil
	}
	blob, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(blob, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

// isFileNotFound treats a missing catalog file as "nothing declared yet"
// rather than a startup error. viper reports this as ConfigFileNotFoundError
// when resolving by search path, or a plain fs.PathError when the caller
// named an exact file with SetConfigFile, as loadTools/loadWorkflows/
// loadPermissions do.
func isFileNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	return os.IsNotExist(err)
}
