// Package chunks converts tag-id sequences into entity spans under BIO
// boundary rules. Gold and predicted sequences go through the same walk, so
// span comparisons between them are exact set comparisons.
package chunks

import "strings"

// OutsideTag is the tag for tokens that belong to no entity. Its id never
// opens a span.
const OutsideTag = "O"

// Span is one entity occurrence: the entity type plus the token interval
// [Start, End) that carries it.
type Span struct {
	Type  string
	Start int
	End   int
}

// ParseTag splits a BIO tag name into its class prefix and entity type:
// "B-PER" parses to ("B", "PER"), a bare "LOC" to ("LOC", "LOC") and the
// outside tag to ("O", "O").
func ParseTag(name string) (string, string) {
	parts := strings.Split(name, "-")
	return parts[0], parts[len(parts)-1]
}

// Extract walks a tag-id sequence, already truncated to its true length,
// and returns its spans in order. tagSet maps tag names to ids, the same
// mapping the model was trained with. A span opens on a non-outside tag
// whose type differs from the running one or whose class is "B"; it closes
// on the outside tag, on a type change, on a "B" restart, or at the end of
// the sequence.
func Extract(seq []int, tagSet map[string]int) []Span {
	defaultID := tagSet[OutsideTag]
	names := make(map[int]string, len(tagSet))
	for name, id := range tagSet {
		names[id] = name
	}

	var spans []Span
	chunkType := ""
	chunkStart := 0
	open := false
	last := -1
	for i, tok := range seq {
		last = i
		switch {
		case tok == defaultID:
			if open {
				spans = append(spans, Span{Type: chunkType, Start: chunkStart, End: i})
				open = false
			}
		default:
			class, tokType := ParseTag(names[tok])
			if !open {
				chunkType, chunkStart, open = tokType, i, true
			} else if tokType != chunkType || class == "B" {
				spans = append(spans, Span{Type: chunkType, Start: chunkStart, End: i})
				chunkType, chunkStart = tokType, i
			}
		}
	}
	if open {
		spans = append(spans, Span{Type: chunkType, Start: chunkStart, End: last + 1})
	}
	return spans
}

// ToSet indexes spans for intersection counting.
func ToSet(spans []Span) map[Span]struct{} {
	set := make(map[Span]struct{}, len(spans))
	for _, span := range spans {
		set[span] = struct{}{}
	}
	return set
}

// Intersection counts spans present in both sets.
func Intersection(a, b map[Span]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for span := range a {
		if _, ok := b[span]; ok {
			n++
		}
	}
	return n
}
