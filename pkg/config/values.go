package config

import (
	"fmt"
	"time"
)

// Stored values arrive as JSON (float64, []interface{}) or YAML (int,
// []interface{}, map[string]interface{}) types. These helpers normalise them.

func asString(key string, value interface{}) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("invalid value type for %s: expected string, got %T", key, value)
	}
	return s, nil
}

func asBool(key string, value interface{}) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("invalid value type for %s: expected bool, got %T", key, value)
	}
	return b, nil
}

func asInt(key string, value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("invalid value for %s: %v is not an integer", key, v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("invalid value type for %s: expected integer, got %T", key, value)
	}
}

func asFloat(key string, value interface{}) (float64, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("invalid value type for %s: expected number, got %T", key, value)
	}
}

// asDuration accepts duration strings ("15s") or nanosecond counts.
func asDuration(key string, value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", key, err)
		}
		return d, nil
	case float64:
		return time.Duration(v), nil
	case int:
		return time.Duration(v), nil
	case int64:
		return time.Duration(v), nil
	default:
		return 0, fmt.Errorf("invalid value type for %s: expected string or number, got %T", key, value)
	}
}

func asStringSlice(key string, value interface{}) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid %s entry at index %d: expected string, got %T", key, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("invalid value type for %s: expected list, got %T", key, value)
	}
}

func asStringMap(key string, value interface{}) (map[string]string, error) {
	switch v := value.(type) {
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, val := range v {
			out[k] = val
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]string, len(v))
		for k, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid %s entry %q: expected string, got %T", key, k, item)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("invalid value type for %s: expected map, got %T", key, value)
	}
}

func toInterfaceSlice(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func toInterfaceMap(values map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
