// Package datasets loads tagged sentences from CoNLL-style files, builds
// and persists the vocabularies, turns raw words into model ids, and loads
// pretrained embedding vectors trimmed to the vocabulary. Files are read
// through the afs abstraction, so local paths and s3:// both work.
package datasets

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/knights-analytics/tagot/batching"
)

// Sentence is one raw annotated sentence.
type Sentence struct {
	Words []string
	Tags  []string
}

// Dataset holds encoded samples ready for batching. Shuffle and
// SortByLength reorder in place between epochs; iteration order is the
// slice order.
type Dataset struct {
	sentences []Sentence
	samples   []batching.Sample
	rng       *rand.Rand
}

// NewDataset encodes sentences with the featurizer and tag vocabulary.
func NewDataset(sentences []Sentence, featurize Featurizer, tagSet map[string]int, seed int64) (*Dataset, error) {
	dataset := &Dataset{
		sentences: sentences,
		samples:   make([]batching.Sample, len(sentences)),
		rng:       rand.New(rand.NewSource(seed)),
	}
	for i, sentence := range sentences {
		sample, err := EncodeSentence(sentence, featurize, tagSet)
		if err != nil {
			return nil, fmt.Errorf("encoding sentence %d: %w", i, err)
		}
		dataset.samples[i] = sample
	}
	return dataset, nil
}

// EncodeSentence maps one sentence into id space. Sentences without tags
// encode with nil label ids, the inference path.
func EncodeSentence(sentence Sentence, featurize Featurizer, tagSet map[string]int) (batching.Sample, error) {
	if len(sentence.Tags) > 0 && len(sentence.Tags) != len(sentence.Words) {
		return batching.Sample{}, fmt.Errorf("sentence has %d words but %d tags", len(sentence.Words), len(sentence.Tags))
	}
	sample := batching.Sample{
		WordIDs: make([]int, len(sentence.Words)),
		CharIDs: make([][]int, len(sentence.Words)),
	}
	for i, word := range sentence.Words {
		wordID, charIDs, err := featurize(word)
		if err != nil {
			return batching.Sample{}, err
		}
		sample.WordIDs[i] = wordID
		sample.CharIDs[i] = charIDs
	}
	if len(sentence.Tags) > 0 {
		sample.LabelIDs = make([]int, len(sentence.Tags))
		for i, tag := range sentence.Tags {
			id, ok := tagSet[tag]
			if !ok {
				return batching.Sample{}, fmt.Errorf("tag %s is not in the tag vocabulary", tag)
			}
			sample.LabelIDs[i] = id
		}
	}
	return sample, nil
}

// Len is the number of sentences.
func (d *Dataset) Len() int {
	return len(d.samples)
}

// Samples exposes the encoded samples in their current order.
func (d *Dataset) Samples() []batching.Sample {
	return d.samples
}

// Sentences exposes the raw sentences in their current order.
func (d *Dataset) Sentences() []Sentence {
	return d.sentences
}

// Shuffle reorders the dataset in place, keeping sentences and samples
// aligned.
func (d *Dataset) Shuffle() {
	d.rng.Shuffle(len(d.samples), func(i, j int) {
		d.samples[i], d.samples[j] = d.samples[j], d.samples[i]
		d.sentences[i], d.sentences[j] = d.sentences[j], d.sentences[i]
	})
}

// SortByLength orders sentences shortest first, which keeps padding waste
// low inside each batch. The sort is stable so equal lengths keep their
// relative order.
func (d *Dataset) SortByLength() {
	order := make([]int, len(d.samples))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return d.samples[order[a]].Len() < d.samples[order[b]].Len()
	})
	samples := make([]batching.Sample, len(d.samples))
	sentences := make([]Sentence, len(d.sentences))
	for to, from := range order {
		samples[to] = d.samples[from]
		sentences[to] = d.sentences[from]
	}
	d.samples = samples
	d.sentences = sentences
}
