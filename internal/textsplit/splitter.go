// Package textsplit splits text into overlapping chunks, preferring paragraph,
// line and word boundaries before falling back to single characters.
package textsplit

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize = 4000
	DefaultOverlap   = 400
)

// DefaultSeparators are tried in order; "" splits into runes.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter is a recursive character splitter. Sizes are measured in runes.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

type Option func(*Splitter)

func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

func New(opts ...Option) *Splitter {
	s := &Splitter{
		chunkSize:  DefaultChunkSize,
		overlap:    DefaultOverlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.chunkSize {
		s.overlap = s.chunkSize / 4
	}
	return s
}

func (s *Splitter) ChunkSize() int { return s.chunkSize }
func (s *Splitter) Overlap() int   { return s.overlap }

// Split returns the chunks of text. Blank input yields no chunks; text that
// fits in one chunk comes back trimmed but otherwise untouched.
func (s *Splitter) Split(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if runeLen(trimmed) <= s.chunkSize {
		return []string{trimmed}
	}
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = strings.Split(text, "")
	} else {
		pieces = strings.Split(text, sep)
	}

	var chunks, pending []string
	// Empty pieces stay so that runs of sep survive the re-join.
	for _, p := range pieces {
		if runeLen(p) < s.chunkSize {
			pending = append(pending, p)
			continue
		}
		if len(pending) > 0 {
			chunks = append(chunks, s.merge(pending, sep)...)
			pending = nil
		}
		if len(rest) == 0 {
			if c := strings.TrimSpace(p); c != "" {
				chunks = append(chunks, c)
			}
		} else {
			chunks = append(chunks, s.split(p, rest)...)
		}
	}
	if len(pending) > 0 {
		chunks = append(chunks, s.merge(pending, sep)...)
	}
	return chunks
}

// merge greedily joins pieces up to chunkSize, carrying at most overlap runes
// of trailing pieces into the next chunk.
func (s *Splitter) merge(pieces []string, sep string) []string {
	sepLen := runeLen(sep)
	var (
		chunks  []string
		current []string
		total   int
	)
	joinCost := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}

	for _, p := range pieces {
		n := runeLen(p)
		if total+n+joinCost() > s.chunkSize && len(current) > 0 {
			if c := strings.TrimSpace(strings.Join(current, sep)); c != "" {
				chunks = append(chunks, c)
			}
			for total > s.overlap || (total > 0 && total+n+joinCost() > s.chunkSize) {
				drop := runeLen(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
		if len(current) > 1 {
			total += sepLen
		}
	}
	if c := strings.TrimSpace(strings.Join(current, sep)); c != "" {
		chunks = append(chunks, c)
	}
	return chunks
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
