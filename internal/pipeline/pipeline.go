// Package pipeline turns pipeline and algorithm configurations into
// evaluable classification pipelines: a chain of preprocessing operators
// followed by a classifier.
package pipeline

import (
	"fmt"

	"github.com/signalnine/autoprep/internal/space"
)

// Transformer is a preprocessing operator. Fit learns from training rows;
// Transform must not modify its input.
type Transformer interface {
	Fit(x [][]float64, y []int) error
	Transform(x [][]float64) ([][]float64, error)
}

// Classifier predicts encoded class labels.
type Classifier interface {
	Fit(x [][]float64, y []int) error
	Predict(x [][]float64) ([]int, error)
}

type step struct {
	operation string
	operator  string
	params    map[string]any
	build     TransformerFactory
}

// Pipeline is an unfitted, immutable pipeline description. Fit creates fresh
// operator instances on every call, so one Pipeline can be fitted on many
// folds concurrently.
type Pipeline struct {
	steps     []step
	algorithm string
	params    map[string]any
	seed      int64
	classify  ClassifierFactory
}

// Build assembles the pipeline for a configuration. Operations are applied in
// prototype order; operations absent from cfg or set to none are skipped.
// The algorithm's parameters are read from algoCfg[space.AlgorithmKey]. Build
// returns the operator names in application order, classifier last.
func Build(proto space.Prototype, cfg space.Config, algorithm string, seed int64, algoCfg space.Config) (*Pipeline, []string, error) {
	alg, ok := algorithms[algorithm]
	if !ok {
		return nil, nil, fmt.Errorf("unknown algorithm %q", algorithm)
	}
	p := &Pipeline{algorithm: algorithm, seed: seed, classify: alg.build}
	var names []string
	for _, op := range proto {
		ch, ok := cfg[op.Name]
		if !ok || ch.Operator == space.None || ch.Operator == "" {
			continue
		}
		entry, ok := operators[ch.Operator]
		if !ok {
			return nil, nil, fmt.Errorf("unknown operator %q for operation %q", ch.Operator, op.Name)
		}
		if _, err := entry.build(ch.Params); err != nil {
			return nil, nil, fmt.Errorf("operation %s: %w", op.Name, err)
		}
		p.steps = append(p.steps, step{operation: op.Name, operator: ch.Operator, params: ch.Params, build: entry.build})
		names = append(names, ch.Operator)
	}
	if ch, ok := algoCfg[space.AlgorithmKey]; ok {
		p.params = ch.Params
	}
	if _, err := alg.build(p.params, seed); err != nil {
		return nil, nil, fmt.Errorf("algorithm %s: %w", algorithm, err)
	}
	names = append(names, algorithm)
	return p, names, nil
}

// Model is a fitted pipeline.
type Model struct {
	transformers []Transformer
	classifier   Classifier
}

// Fit fits fresh operator instances and the classifier on x, y.
func (p *Pipeline) Fit(x [][]float64, y []int) (*Model, error) {
	m := &Model{}
	for _, s := range p.steps {
		t, err := s.build(s.params)
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", s.operator, err)
		}
		if err := t.Fit(x, y); err != nil {
			return nil, fmt.Errorf("fitting %s: %w", s.operator, err)
		}
		if x, err = t.Transform(x); err != nil {
			return nil, fmt.Errorf("transforming with %s: %w", s.operator, err)
		}
		m.transformers = append(m.transformers, t)
	}
	c, err := p.classify(p.params, p.seed)
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", p.algorithm, err)
	}
	if err := c.Fit(x, y); err != nil {
		return nil, fmt.Errorf("fitting %s: %w", p.algorithm, err)
	}
	m.classifier = c
	return m, nil
}

// Predict runs x through the fitted operators and the classifier.
func (m *Model) Predict(x [][]float64) ([]int, error) {
	var err error
	for _, t := range m.transformers {
		if x, err = t.Transform(x); err != nil {
			return nil, err
		}
	}
	return m.classifier.Predict(x)
}
