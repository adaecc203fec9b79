package datasets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/knights-analytics/tagot/util"
)

// Special vocabulary tokens. Unknown words map to UnknownToken, digit
// strings fold to NumberToken, and OutsideTag is the zero-id tag for tokens
// outside any entity.
const (
	UnknownToken = "$UNK$"
	NumberToken  = "$NUM$"
	OutsideTag   = "O"
)

// Vocab is the fixed word, tag, and character id space of a model. The tag
// map always assigns id 0 to the outside tag.
type Vocab struct {
	Words map[string]int
	Tags  map[string]int
	Chars map[string]int
}

// BuildVocab collects words, tags, and characters from training sentences.
// Words are normalized the same way the featurizer normalizes them.
func BuildVocab(sentences []Sentence, lowercase bool) *Vocab {
	vocab := &Vocab{
		Words: map[string]int{},
		Tags:  map[string]int{OutsideTag: 0},
		Chars: map[string]int{},
	}
	addWord := func(word string) {
		if _, ok := vocab.Words[word]; !ok {
			vocab.Words[word] = len(vocab.Words)
		}
	}
	addWord(UnknownToken)
	addWord(NumberToken)

	for _, sentence := range sentences {
		for _, word := range sentence.Words {
			for _, r := range word {
				c := string(r)
				if _, ok := vocab.Chars[c]; !ok {
					vocab.Chars[c] = len(vocab.Chars) + 1 // 0 is the char pad
				}
			}
			addWord(NormalizeWord(word, lowercase))
		}
		for _, tag := range sentence.Tags {
			vocab.Tags[tag] = 0 // id assigned below
		}
	}
	// deterministic tag ids regardless of corpus order, outside stays 0
	assignSorted(vocab.Tags)
	return vocab
}

// assignSorted reassigns ids 1..n to the non-outside tags in sorted name
// order, keeping the outside tag at 0.
func assignSorted(tags map[string]int) {
	names := maps.Keys(tags)
	slices.Sort(names)
	next := 1
	for _, name := range names {
		if name == OutsideTag {
			tags[name] = 0
			continue
		}
		tags[name] = next
		next++
	}
}

// TagNames returns the inverse tag map.
func (v *Vocab) TagNames() map[int]string {
	names := make(map[int]string, len(v.Tags))
	for tag, id := range v.Tags {
		names[id] = tag
	}
	return names
}

// NormalizeWord applies the vocabulary's word normalization: optional
// lowercasing, and digit strings folded to the number token.
func NormalizeWord(word string, lowercase bool) string {
	if isNumeric(word) {
		return NumberToken
	}
	if lowercase {
		return strings.ToLower(word)
	}
	return word
}

func isNumeric(word string) bool {
	if word == "" {
		return false
	}
	for _, r := range word {
		if !unicode.IsDigit(r) && r != '.' && r != ',' && r != '-' {
			return false
		}
	}
	return true
}

// SaveTokens writes a vocabulary map as one token per line, in id order.
func SaveTokens(path string, tokens map[string]int) error {
	ordered := make([]string, len(tokens))
	ids := maps.Values(tokens)
	slices.Sort(ids)
	for token, id := range tokens {
		index := id - ids[0]
		if index < 0 || index >= len(ordered) {
			return fmt.Errorf("vocabulary ids are not contiguous: token %s has id %d", token, id)
		}
		ordered[index] = token
	}
	writer, err := util.NewFileWriter(path, "text/plain")
	if err != nil {
		return err
	}
	for _, token := range ordered {
		if _, err = writer.Write([]byte(token + "\n")); err != nil {
			return errors.Join(err, writer.Close())
		}
	}
	return writer.Close()
}

// LoadTokens reads a one-token-per-line vocabulary file. Ids are line
// numbers starting at base.
func LoadTokens(path string, base int) (tokens map[string]int, err error) {
	file, err := util.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, util.CloseFile(file))
	}()

	tokens = map[string]int{}
	reader := bufio.NewReader(file)
	for {
		line, readErr := util.ReadLine(reader)
		if readErr != nil && readErr != io.EOF {
			return nil, readErr
		}
		token := string(line)
		if token != "" {
			tokens[token] = base + len(tokens)
		}
		if readErr == io.EOF {
			break
		}
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%s holds no tokens", path)
	}
	return tokens, err
}

// Save writes the three vocabulary files into dir as words.txt, tags.txt,
// and chars.txt.
func (v *Vocab) Save(dir string) error {
	if err := SaveTokens(util.PathJoinSafe(dir, "words.txt"), v.Words); err != nil {
		return err
	}
	if err := SaveTokens(util.PathJoinSafe(dir, "tags.txt"), v.Tags); err != nil {
		return err
	}
	return SaveTokens(util.PathJoinSafe(dir, "chars.txt"), v.Chars)
}

// LoadVocab reads the three vocabulary files written by Save.
func LoadVocab(dir string) (*Vocab, error) {
	words, err := LoadTokens(util.PathJoinSafe(dir, "words.txt"), 0)
	if err != nil {
		return nil, err
	}
	tags, err := LoadTokens(util.PathJoinSafe(dir, "tags.txt"), 0)
	if err != nil {
		return nil, err
	}
	chars, err := LoadTokens(util.PathJoinSafe(dir, "chars.txt"), 1)
	if err != nil {
		return nil, err
	}
	return &Vocab{Words: words, Tags: tags, Chars: chars}, nil
}
