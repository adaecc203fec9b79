package models

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/knights-analytics/tagot/batching"
)

func testTagger(t *testing.T, useChars bool) *Tagger {
	t.Helper()
	tagger, err := NewTagger(TaggerConfig{
		WordVocabSize: 10,
		CharVocabSize: 6,
		WordDim:       4,
		CharDim:       3,
		NumTags:       5,
		UseChars:      useChars,
		Seed:          42,
	})
	assert.NoError(t, err)
	return tagger
}

func testBatch(useChars bool) *batching.Batch {
	samples := []batching.Sample{
		{WordIDs: []int{2, 3, 4}, CharIDs: [][]int{{1, 2}, {3}, {4, 5, 1}}, LabelIDs: []int{1, 0, 0}},
		{WordIDs: []int{5, 6}, CharIDs: [][]int{{2}, {3, 4}}, LabelIDs: []int{2, 0}},
	}
	if !useChars {
		for i := range samples {
			samples[i].CharIDs = nil
		}
	}
	return batching.NewBatch(samples, useChars)
}

func TestTaggerForwardShapes(t *testing.T) {
	for _, useChars := range []bool{true, false} {
		tagger := testTagger(t, useChars)
		batch := testBatch(useChars)

		emissions, err := tagger.Forward(batch)
		assert.NoError(t, err)
		assert.Equal(t, batch.MaxLen, len(emissions))
		for _, step := range emissions {
			assert.Equal(t, batch.Size(), len(step))
			for _, scores := range step {
				assert.Equal(t, 5, len(scores))
			}
		}
	}
}

func TestTaggerForwardEmptyBatch(t *testing.T) {
	tagger := testTagger(t, false)
	_, err := tagger.Forward(batching.NewBatch(nil, false))
	assert.Error(t, err)
}

// Analytic gradients must match finite differences for a linear loss over
// the emissions.
func TestTaggerBackwardMatchesFiniteDifferences(t *testing.T) {
	tagger := testTagger(t, true)
	batch := testBatch(true)

	coeffs := func(emissions [][][]float32) [][][]float32 {
		grads := make([][][]float32, len(emissions))
		for i, step := range emissions {
			grads[i] = make([][]float32, len(step))
			for b, scores := range step {
				row := make([]float32, len(scores))
				for j := range row {
					row[j] = float32(i+b+j)*0.1 - 0.2
				}
				grads[i][b] = row
			}
		}
		return grads
	}
	loss := func() float64 {
		emissions, err := tagger.Forward(batch)
		assert.NoError(t, err)
		total := 0.0
		for i, step := range emissions {
			for b, scores := range step {
				for j, s := range scores {
					total += float64(float32(i+b+j)*0.1-0.2) * float64(s)
				}
			}
		}
		return total
	}

	emissions, err := tagger.Forward(batch)
	assert.NoError(t, err)
	tagger.ZeroGrad()
	assert.NoError(t, tagger.Backward(coeffs(emissions)))

	const eps = 1e-2
	for _, p := range []*Param{tagger.proj, tagger.wordEmb, tagger.charEmb} {
		for _, i := range []int{0, len(p.W) / 2, len(p.W) - 1} {
			original := p.W[i]
			p.W[i] = original + eps
			plus := loss()
			p.W[i] = original - eps
			minus := loss()
			p.W[i] = original
			numeric := (plus - minus) / (2 * eps)
			assert.InDelta(t, numeric, float64(p.Grad[i]), 1e-2, "parameter %s index %d", p.Name, i)
		}
	}
}

func TestTaggerBackwardRequiresTrainingMode(t *testing.T) {
	tagger := testTagger(t, false)
	batch := testBatch(false)
	emissions, err := tagger.Forward(batch)
	assert.NoError(t, err)

	tagger.SetTraining(false)
	assert.Error(t, tagger.Backward(emissions))
	tagger.SetTraining(true)
	assert.NoError(t, tagger.Backward(emissions))
}

func TestFreezeToAndUnfreeze(t *testing.T) {
	tagger := testTagger(t, true)
	groups := tagger.LayerGroups()
	assert.Equal(t, 3, len(groups))

	FreezeTo(tagger, 2)
	assert.False(t, tagger.wordEmb.Trainable)
	assert.False(t, tagger.charEmb.Trainable)
	assert.True(t, tagger.proj.Trainable)
	assert.True(t, tagger.bias.Trainable)

	Unfreeze(tagger)
	for _, p := range tagger.Parameters() {
		assert.True(t, p.Trainable, "parameter %s must be trainable after unfreeze", p.Name)
	}
}

func TestLoadEmbeddingsFreezesTable(t *testing.T) {
	tagger := testTagger(t, false)
	vectors := make([][]float32, 10)
	for i := range vectors {
		vectors[i] = []float32{float32(i), 0, 0, 1}
	}
	assert.NoError(t, tagger.LoadEmbeddings(vectors))
	assert.False(t, tagger.wordEmb.Trainable)
	assert.Equal(t, float32(3), tagger.wordEmb.Row(3)[0])

	assert.Error(t, tagger.LoadEmbeddings(vectors[:4]))
}
