package batching

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPadSequences(t *testing.T) {
	sequences := [][]int{
		{4, 5, 6},
		{7, 8},
		{9},
	}
	padded, lengths := PadSequences(sequences, 0)

	assert.Equal(t, []int{3, 2, 1}, lengths)
	assert.Equal(t, 3, len(padded))
	for i, row := range padded {
		assert.Equal(t, 3, len(row), "row %d not padded to batch max", i)
		for j := lengths[i]; j < len(row); j++ {
			assert.Equal(t, 0, row[j], "position %d of row %d should hold the pad token", j, i)
		}
	}
	assert.Equal(t, []int{4, 5, 6}, padded[0])
	assert.Equal(t, []int{7, 8, 0}, padded[1])
	assert.Equal(t, []int{9, 0, 0}, padded[2])
}

func TestPadSequencesEmpty(t *testing.T) {
	padded, lengths := PadSequences(nil, 0)
	assert.Nil(t, padded)
	assert.Nil(t, lengths)
}

func TestPadSequences2D(t *testing.T) {
	sequences := [][][]int{
		{{1, 2, 3}, {4}},
		{{5, 6}},
	}
	padded, wordLengths := PadSequences2D(sequences, 0)

	assert.Equal(t, 2, len(padded))
	for _, sentence := range padded {
		assert.Equal(t, 2, len(sentence))
		for _, word := range sentence {
			assert.Equal(t, 3, len(word))
		}
	}
	assert.Equal(t, [][]int{{1, 2, 3}, {4, 0, 0}}, padded[0])
	assert.Equal(t, [][]int{{5, 6, 0}, {0, 0, 0}}, padded[1])
	assert.Equal(t, []int{3, 1}, wordLengths[0])
	assert.Equal(t, []int{2, 0}, wordLengths[1])
}

func TestNewBatchPadPolicy(t *testing.T) {
	samples := []Sample{
		{WordIDs: []int{10, 11, 12}, CharIDs: [][]int{{1}, {2, 3}, {4}}, LabelIDs: []int{1, 0, 0}},
		{WordIDs: []int{13, 14}, CharIDs: [][]int{{5}, {6}}, LabelIDs: []int{2, 0}},
	}
	batch := NewBatch(samples, true)

	assert.Equal(t, 2, batch.Size())
	assert.Equal(t, 3, batch.MaxLen)
	assert.Equal(t, []int{3, 2}, batch.Lengths)
	// word rows pad with 1 when the char channel is active
	assert.Equal(t, []int{13, 14, 1}, batch.WordIDs[1])
	// label rows pad with 0
	assert.Equal(t, []int{2, 0, 0}, batch.Labels[1])
	// char padding words are all zero
	assert.Equal(t, []int{0, 0}, batch.CharIDs[1][2])

	wordsOnly := NewBatch([]Sample{
		{WordIDs: []int{10, 11}},
		{WordIDs: []int{13}},
	}, false)
	assert.Equal(t, []int{13, 0}, wordsOnly.WordIDs[1])
	assert.Nil(t, wordsOnly.CharIDs)
	assert.Nil(t, wordsOnly.Labels)
}

func TestNewBatchEmpty(t *testing.T) {
	batch := NewBatch(nil, true)
	assert.Equal(t, 0, batch.Size())
	assert.Equal(t, 0, batch.MaxLen)
}

func TestMaskOrientations(t *testing.T) {
	lengths := []int{3, 2}
	batchMajor := Mask(lengths, 3)
	timeMajor := TimeMajorMask(lengths, 3)

	assert.Equal(t, [][]bool{
		{true, true, true},
		{true, true, false},
	}, batchMajor)
	assert.Equal(t, [][]bool{
		{true, true},
		{true, true},
		{true, false},
	}, timeMajor)

	for i, l := range lengths {
		for tt := 0; tt < 3; tt++ {
			assert.Equal(t, tt < l, batchMajor[i][tt])
			assert.Equal(t, batchMajor[i][tt], timeMajor[tt][i], "orientations disagree at (%d,%d)", i, tt)
		}
	}
}

func TestTruncate(t *testing.T) {
	rows := [][]int{
		{1, 2, 3, 0, 0},
		{4, 0, 0, 0, 0},
	}
	truncated := Truncate(rows, []int{3, 1})
	assert.Equal(t, [][]int{{1, 2, 3}, {4}}, truncated)
}

func TestIterator(t *testing.T) {
	samples := make([]Sample, 5)
	for i := range samples {
		samples[i] = Sample{WordIDs: []int{i}, LabelIDs: []int{0}}
	}
	it := NewIterator(samples, 2, false)
	assert.Equal(t, 3, it.Batches())

	sizes := []int{}
	for {
		batch, err := it.Next()
		if err == io.EOF {
			break
		}
		assert.NoError(t, err)
		sizes = append(sizes, batch.Size())
	}
	// the trailing batch has a single sample, callers decide whether to skip it
	assert.Equal(t, []int{2, 2, 1}, sizes)

	it.Reset()
	batch, err := it.Next()
	assert.NoError(t, err)
	assert.Equal(t, 2, batch.Size())
}
