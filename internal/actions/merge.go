package actions

import (
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// MergeStrategy decides how incoming data combines with what is stored.
type MergeStrategy string

const (
	// MergeReplace stores the incoming value wholesale.
	MergeReplace MergeStrategy = "replace"
	// MergeOverwrite deep-merges incoming over existing.
	MergeOverwrite MergeStrategy = "overwrite"
	// MergeSoft deep-merges existing over incoming.
	MergeSoft MergeStrategy = "soft-merge"
	// MergeNone writes only when nothing is stored yet.
	MergeNone MergeStrategy = "none"
)

// ParseMergeStrategy validates s, returning def when s is empty.
func ParseMergeStrategy(s string, def MergeStrategy) (MergeStrategy, error) {
	switch MergeStrategy(s) {
	case "":
		return def, nil
	case MergeReplace, MergeOverwrite, MergeSoft, MergeNone:
		return MergeStrategy(s), nil
	default:
		return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown merge strategy %q", s)
	}
}

// Merge combines existing and incoming under strategy. The second result is
// false when nothing should be written. Inputs are not modified.
func Merge(strategy MergeStrategy, existing map[string]any, exists bool, incoming map[string]any) (map[string]any, bool) {
	switch strategy {
	case MergeReplace:
		return schema.CopyMap(incoming), true
	case MergeNone:
		if exists {
			return schema.CopyMap(existing), false
		}
		return schema.CopyMap(incoming), true
	case MergeSoft:
		return deepMerge(incoming, existing), true
	default:
		return deepMerge(existing, incoming), true
	}
}

// deepMerge returns base with over laid on top; nested objects merge
// recursively, everything else from over wins.
func deepMerge(base, over map[string]any) map[string]any {
	out := schema.CopyMap(base)
	if out == nil {
		out = make(map[string]any, len(over))
	}
	for k, v := range over {
		if vm, ok := v.(map[string]any); ok {
			if bm, ok := out[k].(map[string]any); ok {
				out[k] = deepMerge(bm, vm)
				continue
			}
		}
		out[k] = schema.CopyValue(v)
	}
	return out
}


