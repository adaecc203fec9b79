//go:build !(ORT || ALL)

package models

// WordFeaturizer encodes a raw word into the id space an emission model
// consumes.
type WordFeaturizer interface {
	Featurize(word string) (wordID int, charIDs []int, err error)
}

// NewEncoderFeaturizer loads the subword backend available in this build,
// the pure-Go tokenizer.
func NewEncoderFeaturizer(path string, _ Device) (WordFeaturizer, error) {
	return NewSubwordFeaturizer(path)
}
