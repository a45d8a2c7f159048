package schema

// CopyMap returns a deep copy of a decoded JSON object. Nested objects and
// arrays are copied; scalars keep their Go type.
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CopyValue(v)
	}
	return out
}

// CopyValue deep-copies one decoded JSON value.
func CopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, it := range val {
			out[i] = CopyValue(it)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(val))
		for i, it := range val {
			out[i] = CopyMap(it)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
