package confighash_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/autoprep/internal/confighash"
	"github.com/signalnine/autoprep/internal/space"
)

func TestHashIgnoresInsertionOrder(t *testing.T) {
	a := space.Config{}
	a["normalize"] = space.Choice{Operator: "standard_scaler", Params: map[string]any{"with_mean": true, "with_std": false}}
	a["features"] = space.Choice{Operator: "select_k_best", Params: map[string]any{"k": 2}}

	b := space.Config{}
	b["features"] = space.Choice{Operator: "select_k_best", Params: map[string]any{"k": 2}}
	b["normalize"] = space.Choice{Operator: "standard_scaler", Params: map[string]any{"with_std": false, "with_mean": true}}

	ha, err := confighash.Hash(a)
	require.NoError(t, err)
	hb, err := confighash.Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 40)
}

func TestHashNumericRepresentation(t *testing.T) {
	// A config decoded from JSON carries float64 where the space held ints.
	a := space.Algorithm("knn", map[string]any{"n_neighbors": 5})
	b := space.Algorithm("knn", map[string]any{"n_neighbors": float64(5)})

	ha, err := confighash.Hash(a)
	require.NoError(t, err)
	hb, err := confighash.Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHashDiffers(t *testing.T) {
	configs := []space.Config{
		{"normalize": {Operator: space.None}},
		{"normalize": {Operator: "min_max_scaler"}},
		{"normalize": {Operator: "standard_scaler", Params: map[string]any{"with_mean": true}}},
		{"normalize": {Operator: "standard_scaler", Params: map[string]any{"with_mean": false}}},
		{"normalize": {Operator: "standard_scaler", Params: map[string]any{"with_mean": nil}}},
	}
	seen := map[string]int{}
	for i, c := range configs {
		h, err := confighash.Hash(c)
		require.NoError(t, err)
		if j, dup := seen[h]; dup {
			t.Fatalf("configs %d and %d collide: %s", j, i, h)
		}
		seen[h] = i
	}
}

func TestCompute(t *testing.T) {
	p := space.Config{"normalize": {Operator: "min_max_scaler"}}
	a := space.Algorithm("nb", map[string]any{"var_smoothing": 1e-9})

	k1, err := confighash.Compute(p, a)
	require.NoError(t, err)
	k2, err := confighash.Compute(p.Clone(), a.Clone())
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	ph, _ := confighash.Hash(p)
	ah, _ := confighash.Hash(a)
	assert.Equal(t, ph, k1.Pipeline)
	assert.Equal(t, ah, k1.Algorithm)
	assert.NotEqual(t, k1.Pipeline, k1.Config)

	swapped, err := confighash.Compute(a, p)
	require.NoError(t, err)
	assert.NotEqual(t, k1.Config, swapped.Config)
}

func TestHashRejectsUnserializable(t *testing.T) {
	_, err := confighash.Hash(space.Algorithm("knn", map[string]any{"p": math.NaN()}))
	assert.Error(t, err)

	_, err = confighash.Compute(space.Config{}, map[string]any{"f": func() {}})
	assert.Error(t, err)
}
