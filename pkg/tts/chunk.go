package tts

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxChunkChars bounds a chunk so one synthesis call stays short.
const DefaultMaxChunkChars = 30

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?':
		return true
	}
	return false
}

func isComma(r rune) bool {
	return r == '，' || r == ','
}

// chunker packs units into space-joined chunks of at most limit runes.
type chunker struct {
	limit  int
	chunks []string
	cur    strings.Builder
	n      int
}

func (c *chunker) flush() {
	if c.n == 0 {
		return
	}
	c.chunks = append(c.chunks, c.cur.String())
	c.cur.Reset()
	c.n = 0
}

// add appends unit, starting a new chunk when it would not fit.
func (c *chunker) add(unit string) {
	n := utf8.RuneCountInString(unit)
	if c.n > 0 && c.n+n+1 > c.limit {
		c.flush()
	}
	if c.n > 0 {
		c.cur.WriteByte(' ')
		c.n++
	}
	c.cur.WriteString(unit)
	c.n += n
}

// SplitChunks splits text for synthesis. Sentences are packed into chunks
// of at most limit characters. A sentence longer than limit is split on
// commas, and a clause still longer than limit is cut every limit characters.
// Text with no speakable content yields no chunks.
func SplitChunks(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultMaxChunkChars
	}

	c := &chunker{limit: limit}
	for _, sentence := range strings.FieldsFunc(text, isSentenceEnd) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if utf8.RuneCountInString(sentence) <= limit {
			c.add(sentence)
			continue
		}
		for _, part := range splitLong(sentence, limit) {
			c.add(part)
		}
	}
	c.flush()
	return c.chunks
}

// splitLong breaks an over-long sentence on commas, hard-cutting any
// clause that still does not fit.
func splitLong(sentence string, limit int) []string {
	c := &chunker{limit: limit}
	for _, part := range strings.FieldsFunc(sentence, isComma) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		runes := []rune(part)
		if len(runes) <= limit {
			c.add(part)
			continue
		}
		c.flush()
		for len(runes) > 0 {
			end := min(limit, len(runes))
			c.chunks = append(c.chunks, string(runes[:end]))
			runes = runes[end:]
		}
	}
	c.flush()
	return c.chunks
}
