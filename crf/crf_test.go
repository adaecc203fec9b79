package crf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// twoTagCRF builds a 2-tag CRF with fixed transitions and zero start/end
// scores so path scores can be computed by hand.
func twoTagCRF() *CRF {
	c := New(2)
	c.Transitions = []float32{0.1, 0.2, 0.3, 0.1}
	return c
}

func allTrueMask(steps, batch int) [][]bool {
	mask := make([][]bool, steps)
	for t := range mask {
		mask[t] = make([]bool, batch)
		for b := range mask[t] {
			mask[t][b] = true
		}
	}
	return mask
}

func TestDecodeSimple(t *testing.T) {
	c := twoTagCRF()
	emissions := [][][]float32{
		{{1.0, 0.5}},
		{{0.3, 2.0}},
	}
	// [0,0]: 1.0+0.1+0.3 = 1.4, [0,1]: 1.0+0.2+2.0 = 3.2
	// [1,0]: 0.5+0.3+0.3 = 1.1, [1,1]: 0.5+0.1+2.0 = 2.6
	paths, err := c.Decode(emissions, allTrueMask(2, 1))
	assert.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1}}, paths)
}

func TestLogLikelihoodBruteForce(t *testing.T) {
	c := twoTagCRF()
	emissions := [][][]float32{
		{{1.0, 0.5}},
		{{0.3, 2.0}},
	}
	targets := [][]int{{0}, {1}}

	ll, err := c.LogLikelihood(emissions, targets, allTrueMask(2, 1))
	assert.NoError(t, err)

	// Partition function by enumerating all four paths.
	z := 0.0
	for _, path := range [][]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}} {
		score := float64(emissions[0][0][path[0]]) + float64(emissions[1][0][path[1]]) + c.trans(path[0], path[1])
		z += math.Exp(score)
	}
	goldScore := 1.0 + 0.2 + 2.0
	assert.InDelta(t, goldScore-math.Log(z), ll, 1e-6)
	// The gold path is the best of four, so its probability is below one.
	assert.Less(t, ll, 0.0)
}

func TestMaskedPositionsDoNotLeak(t *testing.T) {
	c := twoTagCRF()
	// Sample 1 has true length 1; its padded step carries huge junk scores
	// that must not move the likelihood or the decoded tag.
	emissions := [][][]float32{
		{{1.0, 0.5}, {2.0, -1.0}},
		{{0.3, 2.0}, {100.0, 100.0}},
	}
	targets := [][]int{{0, 0}, {1, 0}}
	mask := [][]bool{{true, true}, {true, false}}

	ll, err := c.LogLikelihood(emissions, targets, mask)
	assert.NoError(t, err)

	soloA, err := c.LogLikelihood(
		[][][]float32{{{1.0, 0.5}}, {{0.3, 2.0}}},
		[][]int{{0}, {1}},
		allTrueMask(2, 1))
	assert.NoError(t, err)
	soloB, err := c.LogLikelihood(
		[][][]float32{{{2.0, -1.0}}},
		[][]int{{0}},
		allTrueMask(1, 1))
	assert.NoError(t, err)
	assert.InDelta(t, soloA+soloB, ll, 1e-6)

	paths, err := c.Decode(emissions, mask)
	assert.NoError(t, err)
	assert.Equal(t, []int{0, 1}, paths[0])
	assert.Equal(t, []int{0}, paths[1])
}

func TestDecodeBatchInvariant(t *testing.T) {
	c := twoTagCRF()
	single := [][][]float32{
		{{0.4, 0.1}},
		{{0.2, 0.9}},
		{{1.5, 0.3}},
	}
	replicated := [][][]float32{
		{{0.4, 0.1}, {0.4, 0.1}, {0.4, 0.1}},
		{{0.2, 0.9}, {0.2, 0.9}, {0.2, 0.9}},
		{{1.5, 0.3}, {1.5, 0.3}, {1.5, 0.3}},
	}
	soloPaths, err := c.Decode(single, allTrueMask(3, 1))
	assert.NoError(t, err)
	batchPaths, err := c.Decode(replicated, allTrueMask(3, 3))
	assert.NoError(t, err)
	for _, path := range batchPaths {
		assert.Equal(t, soloPaths[0], path)
	}
}

func TestMarginalsSumToOne(t *testing.T) {
	c := twoTagCRF()
	emissions := [][][]float32{
		{{1.0, 0.5}},
		{{0.3, 2.0}},
	}
	marginals, err := c.Marginals(emissions, allTrueMask(2, 1), 0)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(marginals))
	for step, row := range marginals {
		sum := float64(0)
		for _, p := range row {
			sum += float64(p)
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "marginals at step %d", step)
	}
}

// Finite differences against the analytic gradients, central scheme.
func TestBackwardFiniteDifference(t *testing.T) {
	c := twoTagCRF()
	emissions := [][][]float32{
		{{1.0, 0.5}, {0.2, 0.1}},
		{{0.3, 2.0}, {0.7, 0.4}},
	}
	targets := [][]int{{0, 1}, {1, 0}}
	mask := allTrueMask(2, 2)

	nll := func() float64 {
		ll, err := c.LogLikelihood(emissions, targets, mask)
		assert.NoError(t, err)
		return -ll
	}

	c.ZeroGrad()
	grad, err := c.Backward(emissions, targets, mask)
	assert.NoError(t, err)

	const eps = 1e-3

	// Emission gradient at (t=1, b=0, tag=0).
	orig := emissions[1][0][0]
	emissions[1][0][0] = orig + eps
	plus := nll()
	emissions[1][0][0] = orig - eps
	minus := nll()
	emissions[1][0][0] = orig
	assert.InDelta(t, (plus-minus)/(2*eps), float64(grad[1][0][0]), 1e-3)

	// Transition gradient for 0 -> 1.
	origTrans := c.Transitions[1]
	c.Transitions[1] = origTrans + eps
	plus = nll()
	c.Transitions[1] = origTrans - eps
	minus = nll()
	c.Transitions[1] = origTrans
	assert.InDelta(t, (plus-minus)/(2*eps), float64(c.TransGrad[1]), 1e-3)

	// Start gradient for tag 1.
	origStart := c.Start[1]
	c.Start[1] = origStart + eps
	plus = nll()
	c.Start[1] = origStart - eps
	minus = nll()
	c.Start[1] = origStart
	assert.InDelta(t, (plus-minus)/(2*eps), float64(c.StartGrad[1]), 1e-3)
}

func TestShapeValidation(t *testing.T) {
	c := twoTagCRF()
	emissions := [][][]float32{{{1.0, 0.5}}}

	_, err := c.LogLikelihood(nil, nil, nil)
	assert.Error(t, err)

	_, err = c.Decode(emissions, allTrueMask(2, 1))
	assert.Error(t, err)

	_, err = c.LogLikelihood(emissions, [][]int{{3}}, allTrueMask(1, 1))
	assert.Error(t, err, "out of range tag id must be rejected")

	_, err = c.Marginals(emissions, allTrueMask(1, 1), 5)
	assert.Error(t, err)
}

func TestZeroLengthSampleSkipped(t *testing.T) {
	c := twoTagCRF()
	emissions := [][][]float32{{{1.0, 0.5}, {9.0, 9.0}}}
	targets := [][]int{{0, 1}}
	mask := [][]bool{{true, false}}

	ll, err := c.LogLikelihood(emissions, targets, mask)
	assert.NoError(t, err)
	solo, err := c.LogLikelihood([][][]float32{{{1.0, 0.5}}}, [][]int{{0}}, allTrueMask(1, 1))
	assert.NoError(t, err)
	assert.InDelta(t, solo, ll, 1e-6)

	paths, err := c.Decode(emissions, mask)
	assert.NoError(t, err)
	assert.Equal(t, []int{0}, paths[0])
	assert.Empty(t, paths[1])
}
