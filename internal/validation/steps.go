package validation

import (
	"fmt"

	"github.com/cgradwohl/backend-services-2-sub001/internal/expressions"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// ValidateSteps checks the rules a run's raw step list must satisfy before
// anything is persisted: ref and if are strings, refs are unique, and when
// any step declares an if, every refs.<name> it uses names a declared ref.
func ValidateSteps(steps []map[string]any) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	declared := make(map[string]bool, len(steps))
	var conditions []string
	condPaths := map[int]string{}

	for i, raw := range steps {
		path := fmt.Sprintf("steps[%d]", i)

		if _, ok := raw["action"].(string); !ok {
			result.AddError(path+".action", "action must be a string")
		}

		if v, ok := raw["ref"]; ok && v != nil {
			ref, isStr := v.(string)
			switch {
			case !isStr || ref == "":
				result.AddError(path+".ref", "ref must be a non-empty string")
			case declared[ref]:
				result.AddError(path+".ref", fmt.Sprintf("duplicate step ref %q", ref))
			default:
				declared[ref] = true
			}
		}

		if v, ok := raw["if"]; ok && v != nil {
			cond, isStr := v.(string)
			if !isStr {
				result.AddError(path+".if", "if must be a string expression")
				continue
			}
			if cond != "" {
				condPaths[len(conditions)] = path + ".if"
				conditions = append(conditions, cond)
			}
		}
	}

	for i, cond := range conditions {
		for _, name := range expressions.RefNames(cond) {
			if !declared[name] {
				result.AddError(condPaths[i], fmt.Sprintf("condition references undeclared step ref %q", name))
			}
		}
	}

	return result
}
