package validation

import "github.com/cgradwohl/backend-services-2-sub001/pkg/schema"

// Validator checks trigger payloads and action parameters before anything
// is persisted or executed. Uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidateTrigger(req *schema.TriggerRequest) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}
