package chunks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var testTags = map[string]int{
	"O":     0,
	"B-LOC": 1,
	"I-LOC": 2,
	"B-PER": 3,
	"I-PER": 4,
}

func TestParseTag(t *testing.T) {
	class, tagType := ParseTag("B-PER")
	assert.Equal(t, "B", class)
	assert.Equal(t, "PER", tagType)

	class, tagType = ParseTag("O")
	assert.Equal(t, "O", class)
	assert.Equal(t, "O", tagType)

	class, tagType = ParseTag("LOC")
	assert.Equal(t, "LOC", class)
	assert.Equal(t, "LOC", tagType)
}

func TestExtract(t *testing.T) {
	cases := []struct {
		name string
		seq  []int
		want []Span
	}{
		{
			name: "single leading entity",
			seq:  []int{1, 0, 0}, // B-LOC O O
			want: []Span{{Type: "LOC", Start: 0, End: 1}},
		},
		{
			name: "entity continues over I tag",
			seq:  []int{3, 4, 0}, // B-PER I-PER O
			want: []Span{{Type: "PER", Start: 0, End: 2}},
		},
		{
			name: "B restart splits adjacent entities of one type",
			seq:  []int{1, 1, 2}, // B-LOC B-LOC I-LOC
			want: []Span{
				{Type: "LOC", Start: 0, End: 1},
				{Type: "LOC", Start: 1, End: 3},
			},
		},
		{
			name: "type change closes the running span",
			seq:  []int{1, 4, 0}, // B-LOC I-PER O
			want: []Span{
				{Type: "LOC", Start: 0, End: 1},
				{Type: "PER", Start: 1, End: 2},
			},
		},
		{
			name: "span runs to the end of the sequence",
			seq:  []int{0, 3, 4}, // O B-PER I-PER
			want: []Span{{Type: "PER", Start: 1, End: 3}},
		},
		{
			name: "all outside",
			seq:  []int{0, 0, 0},
			want: nil,
		},
		{
			name: "empty sequence",
			seq:  []int{},
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Extract(tc.seq, testTags))
		})
	}
}

func TestExtractDeterministic(t *testing.T) {
	seq := []int{1, 2, 0, 3, 4, 0, 1}
	first := Extract(seq, testTags)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Extract(seq, testTags))
	}
}

func TestSetOperations(t *testing.T) {
	gold := Extract([]int{1, 0, 3}, testTags)
	pred := Extract([]int{1, 0, 0}, testTags)

	goldSet := ToSet(gold)
	predSet := ToSet(pred)
	assert.Equal(t, 2, len(goldSet))
	assert.Equal(t, 1, len(predSet))
	assert.Equal(t, 1, Intersection(goldSet, predSet))
	assert.Equal(t, 1, Intersection(predSet, goldSet))

	// Identical sequences intersect completely.
	same := ToSet(Extract([]int{1, 0, 3}, testTags))
	assert.Equal(t, len(goldSet), Intersection(goldSet, same))
}
