package datasets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/phuslu/log"

	"github.com/knights-analytics/tagot/util"
)

// LoadEmbeddings reads a whitespace-separated text embedding file (word
// followed by its vector) and returns one vector per vocabulary word, in
// word-id order. Words missing from the file keep a zero vector; file words
// outside the vocabulary are dropped, trimming the table to the model.
func LoadEmbeddings(path string, words map[string]int, dim int) (vectors [][]float32, err error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension %d must be positive", dim)
	}
	file, err := util.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, util.CloseFile(file))
	}()

	vectors = make([][]float32, len(words))
	for i := range vectors {
		vectors[i] = make([]float32, dim)
	}

	found := 0
	reader := bufio.NewReader(file)
	lineNo := 0
	for {
		line, readErr := util.ReadLine(reader)
		if readErr != nil && readErr != io.EOF {
			return nil, readErr
		}
		lineNo++

		fields := strings.Fields(string(line))
		if len(fields) > 0 {
			id, ok := words[fields[0]]
			if ok {
				if len(fields)-1 != dim {
					return nil, fmt.Errorf("%s line %d: expected %d values, got %d", path, lineNo, dim, len(fields)-1)
				}
				for d, field := range fields[1:] {
					value, parseErr := strconv.ParseFloat(field, 32)
					if parseErr != nil {
						return nil, fmt.Errorf("%s line %d: %w", path, lineNo, parseErr)
					}
					vectors[id][d] = float32(value)
				}
				found++
			}
		}

		if readErr == io.EOF {
			break
		}
	}

	log.Info().Int("found", found).Int("vocabulary", len(words)).Str("path", path).Msg("Loaded pretrained embeddings")
	return vectors, err
}
