package pipeline

import (
	"sort"

	"github.com/signalnine/autoprep/internal/space"
)

// TransformerFactory builds an unfitted preprocessing operator.
type TransformerFactory func(params map[string]any) (Transformer, error)

// ClassifierFactory builds an unfitted classifier.
type ClassifierFactory func(params map[string]any, seed int64) (Classifier, error)

type operatorEntry struct {
	params []space.Param
	build  TransformerFactory
}

type algorithmEntry struct {
	params []space.Param
	build  ClassifierFactory
}

func values(vs ...any) []any { return vs }

var operators = map[string]operatorEntry{
	"simple_imputer": {
		params: []space.Param{{Name: "strategy", Values: values("mean", "median", "most_frequent")}},
		build:  newImputer,
	},
	"standard_scaler": {
		params: []space.Param{
			{Name: "with_mean", Values: values(true, false)},
			{Name: "with_std", Values: values(true, false)},
		},
		build: newStandardScaler,
	},
	"min_max_scaler": {build: newMinMaxScaler},
	"robust_scaler": {
		params: []space.Param{
			{Name: "with_centering", Values: values(true, false)},
			{Name: "with_scaling", Values: values(true, false)},
		},
		build: newRobustScaler,
	},
	"kbins_discretizer": {
		params: []space.Param{
			{Name: "n_bins", Values: values(3, 5, 7, 10)},
			{Name: "strategy", Values: values("uniform", "quantile")},
		},
		build: newDiscretizer,
	},
	"select_k_best": {
		params: []space.Param{{Name: "k", Values: values(1, 2, 3)}},
		build:  newSelectKBest,
	},
}

var algorithms = map[string]algorithmEntry{
	"knn": {
		params: []space.Param{
			{Name: "n_neighbors", Values: values(1, 3, 5, 7, 9)},
			{Name: "weights", Values: values("uniform", "distance")},
			{Name: "p", Values: values(1, 2)},
		},
		build: newKNN,
	},
	"nb": {
		params: []space.Param{{Name: "var_smoothing", Values: values(1e-9, 1e-7, 1e-5)}},
		build:  newGaussianNB,
	},
	"dtree": {
		params: []space.Param{
			{Name: "max_depth", Values: values(2, 4, 8, 0)},
			{Name: "min_samples_split", Values: values(2, 5, 10)},
			{Name: "criterion", Values: values("gini", "entropy")},
		},
		build: newDecisionTree,
	},
}

// ParamSpace returns the parameter grid of a preprocessing operator, nil for
// unknown operators and for none.
func ParamSpace(operator string) []space.Param {
	return operators[operator].params
}

// IsOperator reports whether operator is registered.
func IsOperator(operator string) bool {
	_, ok := operators[operator]
	return ok
}

// Operators lists the registered preprocessing operators.
func Operators() []string {
	return sortedKeys(operators)
}

// Algorithms lists the registered classifiers.
func Algorithms() []string {
	return sortedKeys(algorithms)
}

// IsAlgorithm reports whether name is a registered classifier.
func IsAlgorithm(name string) bool {
	_, ok := algorithms[name]
	return ok
}

// AlgorithmSpace is the single-domain space of an algorithm's
// hyperparameters, keyed space.AlgorithmKey.
func AlgorithmSpace(name string) *space.Space {
	return &space.Space{Domains: []space.Domain{{
		Name: space.AlgorithmKey,
		Options: []space.Option{{
			Label:    space.AlgorithmKey + "_" + name,
			Operator: name,
			Params:   algorithms[name].params,
		}},
	}}}
}

// PipelineSpace is the domain space generated from a prototype with the
// operator registry.
func PipelineSpace(proto space.Prototype) *space.Space {
	return space.FromPrototype(proto, ParamSpace)
}

// DefaultPrototype is used when a run configuration names no prototype.
func DefaultPrototype() space.Prototype {
	return space.Prototype{
		{Name: "impute", Operators: []string{space.None, "simple_imputer"}},
		{Name: "normalize", Operators: []string{space.None, "standard_scaler", "min_max_scaler", "robust_scaler"}},
		{Name: "discretize", Operators: []string{space.None, "kbins_discretizer"}},
		{Name: "features", Operators: []string{space.None, "select_k_best"}},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
