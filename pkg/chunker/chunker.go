package chunker

import (
	"strings"
	"unicode/utf8"
)

// Strategy selects how source text is cut into knowledge-entry chunks.
type Strategy string

const (
	// StrategyProse splits on structural boundaries (paragraphs, then
	// sentences, then words) and packs the pieces up to the size target.
	StrategyProse Strategy = "prose"
	// StrategySentence groups whole sentences and carries the last
	// sentence of each chunk into the next one. Suited to transcripts and
	// other conversational sources where adjacent turns share referents.
	StrategySentence Strategy = "sentence"
)

// defaultChunkSize keeps one chunk at roughly 200 tokens, small enough
// that a handful of retrieved entries fit the knowledge share of a
// selective-level context.
const defaultChunkSize = 800

type Options struct {
	Size     int // target chunk size in characters
	Strategy Strategy
}

type Chunk struct {
	Content string
	Index   int
}

func ProseOptions() Options {
	return Options{Size: defaultChunkSize, Strategy: StrategyProse}
}

func SentenceOptions() Options {
	return Options{Size: defaultChunkSize, Strategy: StrategySentence}
}

// OptionsFor maps a caller-supplied strategy name to options, defaulting
// to prose for unknown or empty names.
func OptionsFor(strategy string) Options {
	if Strategy(strategy) == StrategySentence {
		return SentenceOptions()
	}
	return ProseOptions()
}

// Split cuts text into chunks per the options. Chunks are trimmed and
// never empty; indexes are contiguous from zero.
func Split(text string, opts Options) []Chunk {
	if opts.Size <= 0 {
		opts.Size = defaultChunkSize
	}

	var pieces []string
	switch opts.Strategy {
	case StrategySentence:
		pieces = packSentences(text, opts.Size, true)
	default:
		pieces = packParagraphs(text, opts.Size)
	}

	chunks := make([]Chunk, 0, len(pieces))
	for _, p := range pieces {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		chunks = append(chunks, Chunk{Content: p, Index: len(chunks)})
	}
	return chunks
}

// packParagraphs greedily packs whole paragraphs up to size. Oversized
// paragraphs fall back to sentence packing, and oversized sentences to
// word splitting, so no chunk materially exceeds the target.
func packParagraphs(text string, size int) []string {
	var out []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) > size {
			flush()
			out = append(out, packSentences(para, size, false)...)
			continue
		}
		if current.Len() > 0 && utf8.RuneCountInString(current.String())+utf8.RuneCountInString(para)+2 > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return out
}

// packSentences groups sentences up to size. With overlap the closing
// sentence of each chunk reopens the next.
func packSentences(text string, size int, overlap bool) []string {
	var out []string
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		out = append(out, strings.Join(current, " "))
		if overlap {
			last := current[len(current)-1]
			current = []string{last}
			currentLen = utf8.RuneCountInString(last)
		} else {
			current = nil
			currentLen = 0
		}
	}

	for _, s := range splitSentences(text) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n := utf8.RuneCountInString(s)
		if n > size {
			flush()
			out = append(out, splitWords(s, size)...)
			current = nil
			currentLen = 0
			continue
		}
		if currentLen > 0 && currentLen+n+1 > size {
			flush()
		}
		current = append(current, s)
		currentLen += n + 1
	}
	if len(current) > 0 {
		// Avoid emitting a chunk that is nothing but the overlap carry.
		if !overlap || len(current) > 1 || len(out) == 0 {
			out = append(out, strings.Join(current, " "))
		}
	}
	return out
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n') {
			sentences = append(sentences, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}

// splitWords is the last resort for a single run of text with no
// sentence boundaries, cutting on spaces and then on runes.
func splitWords(s string, size int) []string {
	var out []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, w := range strings.Fields(s) {
		n := utf8.RuneCountInString(w)
		if n > size {
			flush()
			runes := []rune(w)
			for start := 0; start < len(runes); start += size {
				end := start + size
				if end > len(runes) {
					end = len(runes)
				}
				out = append(out, string(runes[start:end]))
			}
			continue
		}
		if currentLen > 0 && currentLen+n+1 > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
			currentLen++
		}
		current.WriteString(w)
		currentLen += n
	}
	flush()
	return out
}
