package copilot

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// stringArg returns args[key] as trimmed text. Numbers are formatted, so
// an id sent as 12 still matches "12".
func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func requireString(args map[string]any, key string) (string, error) {
	s := stringArg(args, key)
	if s == "" {
		return "", invalid(key, "is required")
	}
	return s, nil
}

// numberArg reads a numeric argument. ok is false when the key is absent.
// Numeric strings ("62.5") are accepted; anything else is a ValidationError.
func numberArg(args map[string]any, key string) (n float64, ok bool, err error) {
	raw, present := args[key]
	if !present || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		n = v
	case int:
		n = float64(v)
	case json.Number:
		n, err = v.Float64()
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false, nil
		}
		n, err = strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	default:
		err = fmt.Errorf("unsupported type %T", raw)
	}
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, true, invalid(key, "must be a number")
	}
	return n, true, nil
}

// intArg reads a whole-number argument.
func intArg(args map[string]any, key string) (int, bool, error) {
	n, ok, err := numberArg(args, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	if n != math.Trunc(n) {
		return 0, true, invalid(key, "must be a whole number")
	}
	return int(n), true, nil
}

// objectList reads an array argument of objects.
func objectList(args map[string]any, key string) ([]map[string]any, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, invalid(key, "must be an array")
	}
	out := make([]map[string]any, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, invalid(fmt.Sprintf("%s[%d]", key, i), "must be an object")
		}
		out = append(out, obj)
	}
	return out, nil
}
