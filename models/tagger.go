package models

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/phuslu/log"

	"github.com/knights-analytics/tagot/batching"
)

// TaggerConfig sizes the baseline tagger.
type TaggerConfig struct {
	WordVocabSize int
	CharVocabSize int
	WordDim       int
	CharDim       int
	NumTags       int
	UseChars      bool
	Seed          int64
}

// Tagger is the baseline trainable emission model: a word embedding table,
// an optional character embedding table averaged per word, and a linear
// projection from the concatenated features to tag scores. It exists so the
// full train/evaluate/predict cycle runs without a pretrained encoder, and
// it is the reference implementation of the EmissionModel contract.
type Tagger struct {
	wordEmb *Param
	charEmb *Param
	proj    *Param
	bias    *Param

	numTags  int
	useChars bool
	featDim  int
	training bool

	// forward cache consumed by Backward
	lastBatch    *batching.Batch
	lastFeatures [][][]float32
}

// NewTagger builds a tagger with randomly initialised parameters.
func NewTagger(config TaggerConfig) (*Tagger, error) {
	if config.WordVocabSize <= 0 || config.WordDim <= 0 {
		return nil, fmt.Errorf("word vocabulary size %d and dimension %d must be positive", config.WordVocabSize, config.WordDim)
	}
	if config.NumTags <= 0 {
		return nil, fmt.Errorf("number of tags %d must be positive", config.NumTags)
	}
	if config.UseChars && (config.CharVocabSize <= 0 || config.CharDim <= 0) {
		return nil, fmt.Errorf("character vocabulary size %d and dimension %d must be positive when character features are enabled", config.CharVocabSize, config.CharDim)
	}

	rng := rand.New(rand.NewSource(config.Seed))
	featDim := config.WordDim
	tagger := &Tagger{
		wordEmb:  NewRandomParam("emb.weight", config.WordVocabSize, config.WordDim, rng),
		numTags:  config.NumTags,
		useChars: config.UseChars,
		training: true,
	}
	if config.UseChars {
		tagger.charEmb = NewRandomParam("char_emb.weight", config.CharVocabSize, config.CharDim, rng)
		featDim += config.CharDim
	}
	tagger.featDim = featDim
	tagger.proj = NewRandomParam("out.weight", featDim, config.NumTags, rng)
	tagger.bias = NewParam("out.bias", 1, config.NumTags)
	return tagger, nil
}

func (m *Tagger) NumTags() int           { return m.numTags }
func (m *Tagger) Training() bool         { return m.training }
func (m *Tagger) SetTraining(train bool) { m.training = train }

func (m *Tagger) Parameters() []*Param {
	params := []*Param{m.wordEmb}
	if m.charEmb != nil {
		params = append(params, m.charEmb)
	}
	return append(params, m.proj, m.bias)
}

// LayerGroups orders the tagger for the freeze policy: embeddings first,
// the projection head last, so FreezeTo(len-1) trains only the head.
func (m *Tagger) LayerGroups() [][]*Param {
	groups := [][]*Param{{m.wordEmb}}
	if m.charEmb != nil {
		groups = append(groups, []*Param{m.charEmb})
	}
	return append(groups, []*Param{m.proj, m.bias})
}

func (m *Tagger) ZeroGrad() {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}

// LoadEmbeddings replaces the word embedding table with pretrained vectors
// and disables its gradient, the fine-tuning setup.
func (m *Tagger) LoadEmbeddings(vectors [][]float32) error {
	if len(vectors) != m.wordEmb.Rows {
		return fmt.Errorf("got %d pretrained vectors for a vocabulary of %d", len(vectors), m.wordEmb.Rows)
	}
	for i, vector := range vectors {
		if len(vector) != m.wordEmb.Cols {
			return fmt.Errorf("pretrained vector %d has dimension %d, embedding table has %d", i, len(vector), m.wordEmb.Cols)
		}
		copy(m.wordEmb.Row(i), vector)
	}
	m.wordEmb.Trainable = false
	log.Info().Msg("Loading pretrained word embeddings")
	return nil
}

// Forward assembles per-token features and projects them to emissions,
// time-major. Character features are the mean of the word's true character
// embeddings; padding words contribute a zero character vector.
func (m *Tagger) Forward(batch *batching.Batch) ([][][]float32, error) {
	if batch.Size() == 0 || batch.MaxLen == 0 {
		return nil, errors.New("cannot run forward on an empty batch")
	}
	if m.useChars && batch.CharIDs == nil {
		return nil, errors.New("tagger uses character features but the batch has none")
	}

	steps := batch.MaxLen
	size := batch.Size()
	emissions := make([][][]float32, steps)
	features := make([][][]float32, steps)
	for t := 0; t < steps; t++ {
		emissions[t] = make([][]float32, size)
		features[t] = make([][]float32, size)
		for b := 0; b < size; b++ {
			feature, err := m.feature(batch, t, b)
			if err != nil {
				return nil, err
			}
			features[t][b] = feature
			emissions[t][b] = m.project(feature)
		}
	}
	m.lastBatch = batch
	m.lastFeatures = features
	return emissions, nil
}

func (m *Tagger) feature(batch *batching.Batch, t, b int) ([]float32, error) {
	feature := make([]float32, m.featDim)
	wordID := batch.WordIDs[b][t]
	if wordID < 0 || wordID >= m.wordEmb.Rows {
		return nil, fmt.Errorf("word id %d out of range for vocabulary of %d", wordID, m.wordEmb.Rows)
	}
	copy(feature, m.wordEmb.Row(wordID))

	if m.useChars {
		charLen := batch.WordLengths[b][t]
		if charLen > 0 {
			charFeature := feature[m.wordEmb.Cols:]
			for k := 0; k < charLen; k++ {
				charID := batch.CharIDs[b][t][k]
				if charID < 0 || charID >= m.charEmb.Rows {
					return nil, fmt.Errorf("char id %d out of range for vocabulary of %d", charID, m.charEmb.Rows)
				}
				row := m.charEmb.Row(charID)
				for d := range charFeature {
					charFeature[d] += row[d]
				}
			}
			inv := 1 / float32(charLen)
			for d := range charFeature {
				charFeature[d] *= inv
			}
		}
	}
	return feature, nil
}

func (m *Tagger) project(feature []float32) []float32 {
	scores := make([]float32, m.numTags)
	copy(scores, m.bias.W)
	for i, f := range feature {
		if f == 0 {
			continue
		}
		row := m.proj.Row(i)
		for j := range scores {
			scores[j] += f * row[j]
		}
	}
	return scores
}

// Backward accumulates gradients from emission gradients. CRF backward
// zeroes padded positions, so every position can be walked uniformly.
func (m *Tagger) Backward(gradEmissions [][][]float32) error {
	if m.lastBatch == nil {
		return errors.New("backward called before forward")
	}
	if !m.training {
		return errors.New("backward called in evaluation mode")
	}
	batch := m.lastBatch
	if len(gradEmissions) != batch.MaxLen {
		return fmt.Errorf("gradient has %d steps, forward batch had %d", len(gradEmissions), batch.MaxLen)
	}

	for t := range gradEmissions {
		for b := range gradEmissions[t] {
			grad := gradEmissions[t][b]
			feature := m.lastFeatures[t][b]

			for j, g := range grad {
				m.bias.Grad[j] += g
			}
			featureGrad := make([]float32, m.featDim)
			for i, f := range feature {
				projRow := m.proj.Row(i)
				projGrad := m.proj.GradRow(i)
				for j, g := range grad {
					projGrad[j] += f * g
					featureGrad[i] += projRow[j] * g
				}
			}

			if m.wordEmb.Trainable {
				wordGrad := m.wordEmb.GradRow(batch.WordIDs[b][t])
				for d := range wordGrad {
					wordGrad[d] += featureGrad[d]
				}
			}
			if m.useChars && m.charEmb.Trainable {
				charLen := batch.WordLengths[b][t]
				if charLen > 0 {
					inv := 1 / float32(charLen)
					charGrad := featureGrad[m.wordEmb.Cols:]
					for k := 0; k < charLen; k++ {
						row := m.charEmb.GradRow(batch.CharIDs[b][t][k])
						for d := range row {
							row[d] += charGrad[d] * inv
						}
					}
				}
			}
		}
	}
	return nil
}
