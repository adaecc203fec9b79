package datasets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/knights-analytics/tagot/util"
)

// docStart marks CoNLL document boundaries and is skipped.
const docStart = "-DOCSTART-"

// ReadCoNLL reads a CoNLL-style file: one token per line with the word in
// the first column and the tag in the last, blank lines separating
// sentences. Lines may be tab or space separated.
func ReadCoNLL(path string) (sentences []Sentence, err error) {
	file, err := util.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, util.CloseFile(file))
	}()

	var current Sentence
	flush := func() {
		if len(current.Words) > 0 {
			sentences = append(sentences, current)
			current = Sentence{}
		}
	}

	reader := bufio.NewReader(file)
	lineNo := 0
	for {
		line, readErr := util.ReadLine(reader)
		if readErr != nil && readErr != io.EOF {
			return nil, readErr
		}
		lineNo++

		text := strings.TrimSpace(string(line))
		switch {
		case text == "":
			flush()
		case strings.HasPrefix(text, docStart):
			// document marker, not a token
		default:
			fields := strings.Fields(text)
			if len(fields) < 2 {
				return nil, fmt.Errorf("%s line %d: expected word and tag columns, got %q", path, lineNo, text)
			}
			current.Words = append(current.Words, fields[0])
			current.Tags = append(current.Tags, fields[len(fields)-1])
		}

		if readErr == io.EOF {
			break
		}
	}
	flush()
	if len(sentences) == 0 {
		return nil, fmt.Errorf("%s holds no sentences", path)
	}
	return sentences, err
}
