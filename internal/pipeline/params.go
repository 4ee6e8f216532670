package pipeline

import (
	"errors"
	"fmt"
	"math"
)

// Parameter values arrive as Go ints from the registries, float64 from JSON
// and int from YAML, so the getters accept any numeric kind.

func intParam(params map[string]any, name string, def int) (int, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("parameter %s: %v is not an integer", name, v)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("parameter %s: unsupported value %v (%T)", name, v, v)
}

func floatParam(params map[string]any, name string, def float64) (float64, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("parameter %s: unsupported value %v (%T)", name, v, v)
}

func stringParam(params map[string]any, name, def string, allowed ...string) (string, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s: unsupported value %v (%T)", name, v, v)
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", fmt.Errorf("parameter %s: %q is not one of %v", name, s, allowed)
}

func boolParam(params map[string]any, name string, def bool) (bool, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %s: unsupported value %v (%T)", name, v, v)
	}
	return b, nil
}

func hasNaN(x [][]float64) bool {
	for _, row := range x {
		for _, v := range row {
			if math.IsNaN(v) {
				return true
			}
		}
	}
	return false
}

var errNaN = errors.New("input contains NaN")

func copyMatrix(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
