//go:build ORT || ALL

package models

import (
	"fmt"

	"github.com/daulet/tokenizers"

	"github.com/knights-analytics/tagot/util"
)

// RustSubwordFeaturizer is the rust-backed counterpart of SubwordFeaturizer
// for builds that already link cgo through onnxruntime. Same first-subword
// alignment, faster encoding.
type RustSubwordFeaturizer struct {
	tk *tokenizers.Tokenizer
}

// NewRustSubwordFeaturizer loads a tokenizer.json from path.
func NewRustSubwordFeaturizer(path string) (*RustSubwordFeaturizer, error) {
	tokenizerBytes, err := util.ReadFileBytes(path)
	if err != nil {
		return nil, err
	}
	tk, err := tokenizers.FromBytes(tokenizerBytes)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer %s: %w", path, err)
	}
	return &RustSubwordFeaturizer{tk: tk}, nil
}

// Close releases the rust tokenizer.
func (f *RustSubwordFeaturizer) Close() error {
	return f.tk.Close()
}

// Featurize returns the first subword id for the word.
func (f *RustSubwordFeaturizer) Featurize(word string) (int, []int, error) {
	ids, _ := f.tk.Encode(word, false)
	if len(ids) == 0 {
		return 0, nil, fmt.Errorf("word %q produced no subword tokens", word)
	}
	return int(ids[0]), nil, nil
}
