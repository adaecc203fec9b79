package models

import (
	"bytes"
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/knights-analytics/tagot/util"
)

// SubwordFeaturizer turns raw words into the subword token ids a pretrained
// ONNX encoder expects, one id per word: the word is encoded on its own
// without special tokens and the first subword id stands for it, the usual
// first-subword alignment for token classification. Backed by the pure-Go
// sugarme tokenizer.
type SubwordFeaturizer struct {
	tk *tokenizer.Tokenizer
}

// NewSubwordFeaturizer loads a tokenizer.json from path.
func NewSubwordFeaturizer(path string) (*SubwordFeaturizer, error) {
	tokenizerBytes, err := util.ReadFileBytes(path)
	if err != nil {
		return nil, err
	}
	tk, err := pretrained.FromReader(bytes.NewReader(tokenizerBytes))
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer %s: %w", path, err)
	}
	return &SubwordFeaturizer{tk: tk}, nil
}

// Featurize returns the first subword id for the word. Character ids are
// nil: subword encoders carry their own character-level signal.
func (f *SubwordFeaturizer) Featurize(word string) (int, []int, error) {
	encoding, err := f.tk.EncodeSingle(word, false)
	if err != nil {
		return 0, nil, fmt.Errorf("encoding word %q: %w", word, err)
	}
	if len(encoding.Ids) == 0 {
		return 0, nil, fmt.Errorf("word %q produced no subword tokens", word)
	}
	return encoding.Ids[0], nil, nil
}
