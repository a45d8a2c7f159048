package actions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Param helpers used by all action files.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

func mapParam(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

// stringMapParam flattens an object param into string values.
func stringMapParam(m map[string]any, key string) map[string]string {
	src := mapParam(m, key)
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		switch s := v.(type) {
		case string:
			out[k] = s
		case nil:
		default:
			out[k] = fmt.Sprintf("%v", s)
		}
	}
	return out
}

// durationParam reads a timeout given as milliseconds or a Go duration
// string.
func durationParam(m map[string]any, key string) time.Duration {
	switch v := m[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	case nil:
	default:
		if ms := intParam(m, key, 0); ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return 0
}

// withoutKeys returns a shallow copy of m minus keys.
func withoutKeys(m map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}
