// Package space models the search space of pipeline and algorithm
// configurations. A Space is consumed two ways: exhaustively, through
// Enumerate, and probabilistically, through Sample.
package space

import (
	"fmt"
	"math/rand"
	"reflect"
	"strings"
)

// Param is one tunable parameter and its candidate values.
type Param struct {
	Name   string `json:"name" yaml:"name"`
	Values []any  `json:"values" yaml:"values"`
}

// Option is one operator an operation may select, with its parameter grid.
type Option struct {
	Label    string  `json:"label"`
	Operator string  `json:"operator"`
	Params   []Param `json:"params,omitempty"`
}

// Size is the number of parameter combinations of the option.
func (o Option) Size() int {
	n := 1
	for _, p := range o.Params {
		n *= len(p.Values)
	}
	return n
}

// Domain is a labelled choice between options for one operation.
type Domain struct {
	Name    string   `json:"name"`
	Options []Option `json:"options"`
}

// Size is the number of distinct choices the domain offers.
func (d Domain) Size() int {
	n := 0
	for _, o := range d.Options {
		n += o.Size()
	}
	return n
}

// Space is an ordered list of domains.
type Space struct {
	Domains []Domain `json:"domains"`
}

// Operation is one step of a prototype and its candidate operators.
type Operation struct {
	Name      string   `json:"operation" yaml:"operation"`
	Operators []string `json:"operators" yaml:"operators"`
}

// Prototype is the ordered list of operations a pipeline is built from.
type Prototype []Operation

// Names returns the operation names in order.
func (p Prototype) Names() []string {
	names := make([]string, len(p))
	for i, op := range p {
		names[i] = op.Name
	}
	return names
}

// ParamFunc returns the parameter grid of an operator. Unknown operators
// yield no parameters.
type ParamFunc func(operator string) []Param

// FromPrototype generates the domain space of a prototype: one domain per
// operation, one option per candidate operator, expanded with its params.
func FromPrototype(proto Prototype, params ParamFunc) *Space {
	s := &Space{}
	for _, op := range proto {
		d := Domain{Name: op.Name}
		for _, operator := range op.Operators {
			if operator == "" {
				operator = None
			}
			var ps []Param
			if params != nil && operator != None {
				ps = params(operator)
			}
			d.Options = append(d.Options, Option{
				Label:    op.Name + "_" + operator,
				Operator: operator,
				Params:   ps,
			})
		}
		s.Domains = append(s.Domains, d)
	}
	return s
}

// Size is the number of points in the space.
func (s *Space) Size() int {
	if len(s.Domains) == 0 {
		return 0
	}
	n := 1
	for _, d := range s.Domains {
		n *= d.Size()
	}
	return n
}

// Domain returns the domain named name.
func (s *Space) Domain(name string) (Domain, bool) {
	for _, d := range s.Domains {
		if d.Name == name {
			return d, true
		}
	}
	return Domain{}, false
}

// Default returns the point made of the first option and first parameter
// values of every domain.
func (s *Space) Default() Config {
	c := make(Config, len(s.Domains))
	for _, d := range s.Domains {
		if len(d.Options) == 0 {
			continue
		}
		o := d.Options[0]
		var params map[string]any
		if len(o.Params) > 0 {
			params = make(map[string]any, len(o.Params))
			for _, p := range o.Params {
				if len(p.Values) > 0 {
					params[p.Name] = p.Values[0]
				}
			}
		}
		c[d.Name] = Choice{Operator: o.Operator, Params: params}
	}
	return c
}

// Enumerate returns every point of the space as the cartesian product of the
// domains, in domain order.
func (s *Space) Enumerate() []Config {
	if len(s.Domains) == 0 {
		return nil
	}
	out := []Config{{}}
	for _, d := range s.Domains {
		choices := d.choices()
		next := make([]Config, 0, len(out)*len(choices))
		for _, partial := range out {
			for _, ch := range choices {
				c := partial.Clone()
				c[d.Name] = ch
				next = append(next, c)
			}
		}
		out = next
	}
	return out
}

func (d Domain) choices() []Choice {
	var out []Choice
	for _, o := range d.Options {
		combos := []map[string]any{nil}
		for _, p := range o.Params {
			next := make([]map[string]any, 0, len(combos)*len(p.Values))
			for _, base := range combos {
				for _, v := range p.Values {
					m := make(map[string]any, len(base)+1)
					for k, bv := range base {
						m[k] = bv
					}
					m[p.Name] = v
					next = append(next, m)
				}
			}
			combos = next
		}
		for _, params := range combos {
			out = append(out, Choice{Operator: o.Operator, Params: params})
		}
	}
	return out
}

// Sample draws one point: a uniformly chosen option per domain and a
// uniformly chosen value per parameter.
func (s *Space) Sample(rng *rand.Rand) Config {
	c := make(Config, len(s.Domains))
	for _, d := range s.Domains {
		if len(d.Options) == 0 {
			continue
		}
		o := d.Options[rng.Intn(len(d.Options))]
		var params map[string]any
		if len(o.Params) > 0 {
			params = make(map[string]any, len(o.Params))
			for _, p := range o.Params {
				if len(p.Values) > 0 {
					params[p.Name] = p.Values[rng.Intn(len(p.Values))]
				}
			}
		}
		c[d.Name] = Choice{Operator: o.Operator, Params: params}
	}
	return c
}

// Dim is the length of the vectors produced by Encode.
func (s *Space) Dim() int {
	n := 0
	for _, d := range s.Domains {
		for _, o := range d.Options {
			n++
			for _, p := range o.Params {
				n += len(p.Values)
			}
		}
	}
	return n
}

// Encode maps a point to a one-hot vector: one slot per option and one per
// parameter value. Values not present in the space leave their slots at zero.
func (s *Space) Encode(c Config) []float64 {
	vec := make([]float64, 0, s.Dim())
	for _, d := range s.Domains {
		ch, ok := c[d.Name]
		for _, o := range d.Options {
			selected := ok && ch.Operator == o.Operator
			vec = append(vec, indicator(selected))
			for _, p := range o.Params {
				for _, v := range p.Values {
					hit := selected && ch.Params != nil && sameValue(ch.Params[p.Name], v)
					vec = append(vec, indicator(hit))
				}
			}
		}
	}
	return vec
}

// Contains reports whether c selects a valid option and valid parameter
// values in every domain.
func (s *Space) Contains(c Config) bool {
	for _, d := range s.Domains {
		ch, ok := c[d.Name]
		if !ok {
			return false
		}
		found := false
		for _, o := range d.Options {
			if o.Operator != ch.Operator {
				continue
			}
			found = true
			for _, p := range o.Params {
				valid := false
				for _, v := range p.Values {
					if sameValue(ch.Params[p.Name], v) {
						valid = true
						break
					}
				}
				if !valid {
					return false
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

const jointSep = "."

// Joint prefixes the domains of the named sub-spaces with "<name>." and
// concatenates them into a single space.
func Joint(pipeline, algorithm *Space) *Space {
	out := &Space{}
	for _, part := range []struct {
		name string
		s    *Space
	}{{"pipeline", pipeline}, {"algorithm", algorithm}} {
		if part.s == nil {
			continue
		}
		for _, d := range part.s.Domains {
			d.Name = part.name + jointSep + d.Name
			out.Domains = append(out.Domains, d)
		}
	}
	return out
}

// SplitJoint unpacks a point of a Joint space into the pipeline and
// algorithm configurations.
func SplitJoint(c Config) (pipeline, algorithm Config, err error) {
	pipeline, algorithm = Config{}, Config{}
	for name, ch := range c {
		prefix, op, ok := strings.Cut(name, jointSep)
		if !ok {
			return nil, nil, fmt.Errorf("joint domain %q has no sub-space prefix", name)
		}
		switch prefix {
		case "pipeline":
			pipeline[op] = ch
		case "algorithm":
			algorithm[op] = ch
		default:
			return nil, nil, fmt.Errorf("joint domain %q: unknown sub-space %q", name, prefix)
		}
	}
	return pipeline, algorithm, nil
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// sameValue compares parameter values across numeric representations, so a
// value decoded from JSON (float64) matches the int it was generated from.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
