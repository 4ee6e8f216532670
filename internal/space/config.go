package space

import (
	"fmt"
	"sort"
	"strings"
)

// None is the operator id of a pass-through step.
const None = "none"

// AlgorithmKey is the single operation name of an algorithm configuration.
const AlgorithmKey = "algorithm"

// Choice is the operator selected for one operation and its parameter values.
type Choice struct {
	Operator string         `json:"operator" yaml:"operator"`
	Params   map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Config maps operation names to the selected operator.
type Config map[string]Choice

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	if c == nil {
		return nil
	}
	out := make(Config, len(c))
	for op, ch := range c {
		var params map[string]any
		if ch.Params != nil {
			params = make(map[string]any, len(ch.Params))
			for k, v := range ch.Params {
				params[k] = v
			}
		}
		out[op] = Choice{Operator: ch.Operator, Params: params}
	}
	return out
}

// Operator returns the operator selected for op, or None.
func (c Config) Operator(op string) string {
	ch, ok := c[op]
	if !ok || ch.Operator == "" {
		return None
	}
	return ch.Operator
}

// String renders c with sorted operations, e.g.
// "features=select_k_best(k=2) normalize=none".
func (c Config) String() string {
	ops := make([]string, 0, len(c))
	for op := range c {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	parts := make([]string, 0, len(ops))
	for _, op := range ops {
		parts = append(parts, op+"="+c[op].String())
	}
	return strings.Join(parts, " ")
}

func (ch Choice) String() string {
	op := ch.Operator
	if op == "" {
		op = None
	}
	if len(ch.Params) == 0 {
		return op
	}
	names := make([]string, 0, len(ch.Params))
	for k := range ch.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	kv := make([]string, 0, len(names))
	for _, k := range names {
		kv = append(kv, fmt.Sprintf("%s=%v", k, ch.Params[k]))
	}
	return op + "(" + strings.Join(kv, ",") + ")"
}

// Algorithm builds an algorithm configuration for name with params.
func Algorithm(name string, params map[string]any) Config {
	return Config{AlgorithmKey: {Operator: name, Params: params}}
}
