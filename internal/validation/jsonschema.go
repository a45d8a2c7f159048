package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// triggerSchemaJSON is the JSON Schema for run ingestion payloads.
const triggerSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://automations.local/schemas/trigger.json",
  "type": "object",
  "required": ["steps", "context", "runId", "scope", "source", "tenantId"],
  "properties": {
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "context": {
      "type": "object",
      "properties": {
        "brand": {},
        "data": { "type": ["object", "null"] },
        "profile": { "type": ["object", "null"] },
        "recipient": { "type": "string" },
        "template": { "type": "string" }
      }
    },
    "runId": { "type": "string", "minLength": 1 },
    "scope": { "type": "string", "minLength": 1 },
    "source": {
      "type": "array",
      "items": { "type": "string" }
    },
    "tenantId": { "type": "string", "minLength": 1 },
    "dryRunKey": { "type": "string" },
    "cancelationToken": { "type": "string" }
  },
  "$defs": {
    "step": {
      "type": "object",
      "required": ["action"],
      "properties": {
        "action": { "type": "string", "minLength": 1 },
        "if": { "type": "string" },
        "ref": { "type": "string", "minLength": 1 }
      }
    }
  }
}`

const triggerSchemaURL = "https://automations.local/schemas/trigger.json"

// JSONSchemaValidator implements the Validator interface using JSON Schema Draft 2020-12.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	triggerSchema *jsonschema.Schema

	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the trigger schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newInputCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(triggerSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal trigger schema: %w", err)
	}
	if err := c.AddResource(triggerSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add trigger schema resource: %w", err)
	}
	compiled, err := c.Compile(triggerSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile trigger schema: %w", err)
	}

	return &JSONSchemaValidator{
		triggerSchema: compiled,
		cache:         make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateTrigger validates an ingestion payload. Step-level rules that a
// schema cannot express (ref uniqueness, dangling refs) are checked by
// ValidateSteps.
func (v *JSONSchemaValidator) ValidateTrigger(req *schema.TriggerRequest) error {
	if req == nil {
		return schema.NewError(schema.ErrCodeValidation, "trigger request is nil")
	}

	doc, err := toJSONValue(req)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize trigger request").WithCause(err)
	}
	if err := v.triggerSchema.Validate(doc); err != nil {
		return toAutomationError(err)
	}
	return nil
}

// ValidateInput validates input data against a JSON Schema provided as raw bytes.
// The schema is compiled and cached for subsequent calls with the same schema.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "input is nil")
	}
	if len(inputSchema) == 0 {
		return nil // no schema means no validation needed
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	// Convert input to JSON-compatible value (json.Number for numbers).
	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toAutomationError(err)
	}

	return nil
}

// getOrCompile returns the cached compiled schema for schemaBytes.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := fmt.Sprintf("automations://input-schema/%d", len(v.cache))

	c := newInputCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// newInputCompiler creates a Compiler that asserts formats.
func newInputCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toAutomationError converts a jsonschema.ValidationError into a
// VALIDATION_ERROR listing every leaf violation.
func toAutomationError(err error) *schema.AutomationError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages prefixed with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
