package engine

import (
	"strings"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// DetectCycle reports an error when an invoke step of the run targets a
// template already present in the run's source chain. The match is by
// substring on each source entry.
func DetectCycle(source []string, steps []map[string]any) error {
	for i, raw := range steps {
		if action, _ := raw["action"].(string); action != string(schema.ActionInvoke) {
			continue
		}
		target, ok := raw["template"].(string)
		if !ok || target == "" {
			continue
		}
		for _, entry := range source {
			if strings.Contains(entry, target) {
				return schema.NewErrorf(schema.ErrCodeCycleDetected,
					"invoke of template %q would re-enter %q", target, entry).
					WithDetails(map[string]any{"template": target, "source": source, "step": i})
			}
		}
	}
	return nil
}
