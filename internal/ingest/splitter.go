package ingest

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators try paragraph breaks, then line breaks, then spaces, then single characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter recursively splits text into chunks of at most Size runes, with consecutive chunks
// sharing up to Overlap runes of trailing context.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
}

// NewSplitter validates the parameters; an overlap not smaller than size is reduced to size/5.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &Splitter{Size: size, Overlap: overlap, Separators: DefaultSeparators}
}

// Split returns the chunks of text in order. Chunks are whitespace-trimmed and never empty.
func (s *Splitter) Split(text string) []string {
	return s.split(text, s.Separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var finer []string
	for i, candidate := range separators {
		if candidate == "" {
			separator = ""
			break
		}
		if strings.Contains(text, candidate) {
			separator = candidate
			finer = separators[i+1:]
			break
		}
	}

	var chunks, small []string
	for _, piece := range splitOn(text, separator) {
		if runeLen(piece) < s.Size {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			chunks = append(chunks, s.merge(small, separator)...)
			small = nil
		}
		if len(finer) == 0 {
			chunks = append(chunks, piece)
		} else {
			chunks = append(chunks, s.split(piece, finer)...)
		}
	}
	if len(small) > 0 {
		chunks = append(chunks, s.merge(small, separator)...)
	}
	return chunks
}

// merge packs pieces greedily into chunks, then drops leading pieces until the carried-over
// tail fits in Overlap and leaves room for the next piece.
func (s *Splitter) merge(pieces []string, separator string) []string {
	sepLen := runeLen(separator)
	var (
		chunks  []string
		current []string
		total   int
	)
	joinedLen := func(next int) int {
		if len(current) > 0 {
			return total + next + sepLen
		}
		return total + next
	}
	for _, piece := range pieces {
		n := runeLen(piece)
		if joinedLen(n) > s.Size && len(current) > 0 {
			if chunk := joinTrimmed(current, separator); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for total > s.Overlap || (joinedLen(n) > s.Size && total > 0) {
				total -= runeLen(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
		if len(current) > 1 {
			total += sepLen
		}
	}
	if chunk := joinTrimmed(current, separator); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func splitOn(text, separator string) []string {
	var parts []string
	if separator == "" {
		parts = make([]string, 0, len(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
	} else {
		parts = strings.Split(text, separator)
	}
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinTrimmed(pieces []string, separator string) string {
	return strings.TrimSpace(strings.Join(pieces, separator))
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
