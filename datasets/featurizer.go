package datasets

import "fmt"

// Featurizer maps one raw word to its word id and, when character features
// are enabled, the per-character ids. Every training, evaluation, and
// inference path goes through the same featurizer so a word always encodes
// the same way.
type Featurizer func(word string) (wordID int, charIDs []int, err error)

// FeaturizerConfig controls word normalization and feature channels.
type FeaturizerConfig struct {
	Lowercase bool
	UseChars  bool
	AllowUnk  bool
}

// Featurizer builds the word featurizer over this vocabulary. Unknown
// characters are dropped; unknown words map to the unknown token when
// AllowUnk is set and error otherwise, which catches vocabulary drift
// between training and serving.
func (v *Vocab) Featurizer(config FeaturizerConfig) Featurizer {
	return func(word string) (int, []int, error) {
		var charIDs []int
		if config.UseChars {
			for _, r := range word {
				if id, ok := v.Chars[string(r)]; ok {
					charIDs = append(charIDs, id)
				}
			}
		}

		normalized := NormalizeWord(word, config.Lowercase)
		wordID, ok := v.Words[normalized]
		if !ok {
			if !config.AllowUnk {
				return 0, nil, fmt.Errorf("word %q is not in the vocabulary, check that your vocab files are correct", word)
			}
			wordID = v.Words[UnknownToken]
		}
		return wordID, charIDs, nil
	}
}
