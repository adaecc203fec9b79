// Package batching turns variable-length labeled sentences into the padded
// rectangular arrays consumed by emission models and the CRF layer, and back.
package batching

// Sample is one sentence in id space: word ids, optional per-word character
// ids, and label ids when the sentence is annotated.
type Sample struct {
	WordIDs  []int
	CharIDs  [][]int
	LabelIDs []int
}

// Len returns the number of tokens in the sample.
func (s Sample) Len() int {
	return len(s.WordIDs)
}

// Batch holds a fixed number of samples padded to a common token length.
// WordIDs is (batch, maxLen). CharIDs is (batch, maxLen, maxWordLen) and is
// nil when character features are disabled. Labels is (batch, maxLen) and is
// nil for unlabeled input. Lengths holds the true token count per sample.
type Batch struct {
	WordIDs     [][]int
	CharIDs     [][][]int
	Labels      [][]int
	Lengths     []int
	WordLengths [][]int
	MaxLen      int
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return len(b.WordIDs)
}

// WordPadID is the filler for word id rows when character features are
// active, CharPadID fills character rows and label rows. The asymmetry is a
// property of the embedding tables this feeds: index 1 is the padding word
// when a char channel exists, index 0 otherwise.
const (
	WordPadID     = 1
	CharPadID     = 0
	LabelPadID    = 0
	WordOnlyPadID = 0
)

// NewBatch pads a slice of samples into rectangular arrays. Labels are
// padded only if every sample carries them. An empty slice yields an empty
// batch with MaxLen 0, which callers are expected to detect and skip.
func NewBatch(samples []Sample, useChars bool) *Batch {
	batch := &Batch{}
	if len(samples) == 0 {
		return batch
	}

	words := make([][]int, len(samples))
	labeled := true
	for i, sample := range samples {
		words[i] = sample.WordIDs
		if sample.LabelIDs == nil {
			labeled = false
		}
	}

	wordPad := WordOnlyPadID
	if useChars {
		wordPad = WordPadID
	}
	batch.WordIDs, batch.Lengths = PadSequences(words, wordPad)
	batch.MaxLen = 0
	if len(batch.WordIDs) > 0 {
		batch.MaxLen = len(batch.WordIDs[0])
	}

	if useChars {
		chars := make([][][]int, len(samples))
		for i, sample := range samples {
			chars[i] = sample.CharIDs
		}
		batch.CharIDs, batch.WordLengths = PadSequences2D(chars, CharPadID)
	}

	if labeled {
		labels := make([][]int, len(samples))
		for i, sample := range samples {
			labels[i] = sample.LabelIDs
		}
		batch.Labels, _ = PadSequences(labels, LabelPadID)
	}
	return batch
}

// PadSequences pads every sequence with padTok up to the longest length in
// the input and returns the padded matrix together with the true lengths.
func PadSequences(sequences [][]int, padTok int) ([][]int, []int) {
	if len(sequences) == 0 {
		return nil, nil
	}
	maxLength := 0
	for _, seq := range sequences {
		if len(seq) > maxLength {
			maxLength = len(seq)
		}
	}
	return padTo(sequences, padTok, maxLength)
}

func padTo(sequences [][]int, padTok int, maxLength int) ([][]int, []int) {
	padded := make([][]int, len(sequences))
	lengths := make([]int, len(sequences))
	for i, seq := range sequences {
		row := make([]int, maxLength)
		n := copy(row, seq)
		for j := n; j < maxLength; j++ {
			row[j] = padTok
		}
		padded[i] = row
		lengths[i] = min(len(seq), maxLength)
	}
	return padded, lengths
}

// PadSequences2D pads character-level sequences on two levels: every word's
// character list is padded to the longest word in the whole input, then every
// sentence is padded with all-padTok words to the longest sentence. The
// second return value holds the true character count per word, zero for
// padding words.
func PadSequences2D(sequences [][][]int, padTok int) ([][][]int, [][]int) {
	if len(sequences) == 0 {
		return nil, nil
	}
	maxLengthWord := 0
	maxLengthSentence := 0
	for _, seq := range sequences {
		if len(seq) > maxLengthSentence {
			maxLengthSentence = len(seq)
		}
		for _, word := range seq {
			if len(word) > maxLengthWord {
				maxLengthWord = len(word)
			}
		}
	}

	padded := make([][][]int, len(sequences))
	wordLengths := make([][]int, len(sequences))
	for i, seq := range sequences {
		sentence := make([][]int, maxLengthSentence)
		lengths := make([]int, maxLengthSentence)
		for j := 0; j < maxLengthSentence; j++ {
			word := make([]int, maxLengthWord)
			if j < len(seq) {
				n := copy(word, seq[j])
				for k := n; k < maxLengthWord; k++ {
					word[k] = padTok
				}
				lengths[j] = min(len(seq[j]), maxLengthWord)
			} else {
				for k := range word {
					word[k] = padTok
				}
			}
			sentence[j] = word
		}
		padded[i] = sentence
		wordLengths[i] = lengths
	}
	return padded, wordLengths
}
