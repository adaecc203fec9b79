package batching

import "io"

// Iterator yields consecutive padded batches from a slice of samples.
// Next returns io.EOF once the samples are exhausted; Reset rewinds so the
// same iterator can drive several epochs over reshuffled data.
type Iterator struct {
	samples   []Sample
	batchSize int
	useChars  bool
	pos       int
}

func NewIterator(samples []Sample, batchSize int, useChars bool) *Iterator {
	return &Iterator{
		samples:   samples,
		batchSize: batchSize,
		useChars:  useChars,
	}
}

// Batches returns the number of batches one pass will produce.
func (it *Iterator) Batches() int {
	if it.batchSize <= 0 {
		return 0
	}
	return (len(it.samples) + it.batchSize - 1) / it.batchSize
}

func (it *Iterator) Next() (*Batch, error) {
	if it.pos >= len(it.samples) || it.batchSize <= 0 {
		return nil, io.EOF
	}
	end := it.pos + it.batchSize
	if end > len(it.samples) {
		end = len(it.samples)
	}
	batch := NewBatch(it.samples[it.pos:end], it.useChars)
	it.pos = end
	return batch, nil
}

func (it *Iterator) Reset() {
	it.pos = 0
}

// Replace swaps the backing samples, typically after an epoch reshuffle,
// and rewinds the iterator.
func (it *Iterator) Replace(samples []Sample) {
	it.samples = samples
	it.pos = 0
}
