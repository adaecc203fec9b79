//go:build ORT || ALL

package models

// WordFeaturizer encodes a raw word into the id space an emission model
// consumes.
type WordFeaturizer interface {
	Featurize(word string) (wordID int, charIDs []int, err error)
}

// NewEncoderFeaturizer loads the subword backend matching the device: the
// rust tokenizer next to the onnxruntime backend, the pure-Go one on cpu.
func NewEncoderFeaturizer(path string, device Device) (WordFeaturizer, error) {
	if device.Accelerator {
		return NewRustSubwordFeaturizer(path)
	}
	return NewSubwordFeaturizer(path)
}
