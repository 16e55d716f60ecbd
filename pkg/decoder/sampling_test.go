package decoder

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/menta2k/image-captioner/pkg/types"
)

func TestApplyTemperature_IdentityAtOne(t *testing.T) {
	probs := types.Distribution{0.2, 0.5, 0.3}
	assert.Equal(t, probs, ApplyTemperature(probs, 1.0))
}

func TestApplyTemperature_Normalises(t *testing.T) {
	probs := types.Distribution{0.2, 0.5, 0.3}
	for _, temp := range []float64{0.1, 0.5, 1.5, 2.0} {
		out := ApplyTemperature(probs, temp)
		sum := 0.0
		for _, p := range out {
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "temperature %v", temp)
		assert.Equal(t, 1, Argmax(out), "temperature %v", temp)
	}
	// Input untouched.
	assert.Equal(t, types.Distribution{0.2, 0.5, 0.3}, probs)
}

func TestApplyTemperature_SharpensAndFlattens(t *testing.T) {
	probs := types.Distribution{0.25, 0.75}

	sharp := ApplyTemperature(probs, 0.5)
	assert.InDelta(t, 0.9, sharp[1], 1e-9) // 0.5625 / 0.625

	flat := ApplyTemperature(probs, 2.0)
	assert.Less(t, flat[1], 0.75)
	assert.Greater(t, flat[1], 0.5)
}

func TestApplyTemperature_ZeroMassFallsBack(t *testing.T) {
	probs := types.Distribution{0, 0, 0}
	out := ApplyTemperature(probs, 0.5)
	assert.Equal(t, probs, out)

	tiny := types.Distribution{1e-300, 1e-300}
	out = ApplyTemperature(tiny, 0.01)
	assert.False(t, math.IsNaN(out[0]))
	assert.Equal(t, 0, Argmax(out))
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, -1, Argmax(nil))
	assert.Equal(t, 2, Argmax(types.Distribution{0.1, 0.2, 0.7}))
	assert.Equal(t, 1, Argmax(types.Distribution{0.1, 0.45, 0.45}))
	assert.Equal(t, 0, Argmax(types.Distribution{0.25, 0.25, 0.25, 0.25}))
}

func TestTopK(t *testing.T) {
	dist := types.Distribution{0.1, 0.4, 0.1, 0.3, 0.1}
	assert.Equal(t, []int{1, 3, 0}, TopK(dist, 3))
	assert.Equal(t, []int{1, 3, 0, 2, 4}, TopK(dist, 10))
	assert.Empty(t, TopK(types.Distribution{}, 5))
}

func TestFinite(t *testing.T) {
	assert.True(t, Finite(types.Distribution{0.2, 0.5, 0.3}))
	assert.True(t, Finite(types.Distribution{}))
	assert.False(t, Finite(types.Distribution{0.2, math.NaN()}))
	assert.False(t, Finite(types.Distribution{math.Inf(1), 0.5}))
	assert.False(t, Finite(types.Distribution{0.5, math.Inf(-1)}))
}
