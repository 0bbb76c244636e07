package voicecore

import "strings"

// SentenceBuffer splits streaming LLM chunks into speakable sentences
// (C2). It appends each chunk to an internal buffer and, after every
// append, repeatedly extracts the earliest prefix ending in a sentence
// delimiter whose length is at least minSentenceLength. If the buffer
// grows past maxBufferLength with no sentence delimiter in sight, it
// force-cuts at the last comma-class delimiter past the minimum length,
// or failing that at maxBufferLength/2, so a single run-on utterance
// never blocks TTS indefinitely.
type SentenceBuffer struct {
	buf               []rune
	sentenceDelimiters map[rune]bool
	commaDelimiters    map[rune]bool
	minSentenceLength  int
	maxBufferLength    int
}

// NewSentenceBuffer builds a SentenceBuffer from the delimiter sets and
// length bounds in cfg.
func NewSentenceBuffer(cfg Config) *SentenceBuffer {
	return &SentenceBuffer{
		sentenceDelimiters: runeSet(cfg.SentenceDelimiters),
		commaDelimiters:    runeSet(cfg.CommaDelimiters),
		minSentenceLength:  cfg.MinSentenceLength,
		maxBufferLength:    cfg.MaxBufferLength,
	}
}

func runeSet(s string) map[rune]bool {
	m := make(map[rune]bool, len(s))
	for _, r := range s {
		m[r] = true
	}
	return m
}

// AddChunk appends text to the buffer and returns every complete sentence
// extracted as a result (zero or more; streaming LLM output usually
// yields zero, occasionally one, rarely more if a chunk happens to
// contain several delimiters).
func (b *SentenceBuffer) AddChunk(text string) []string {
	b.buf = append(b.buf, []rune(text)...)

	var out []string
	for {
		s, ok := b.extractOne()
		if !ok {
			break
		}
		out = append(out, s)
	}
	return out
}

// extractOne pulls the earliest complete sentence off the front of the
// buffer, if any. It first looks for a real sentence delimiter at or
// past minSentenceLength; failing that, if the buffer has grown past
// maxBufferLength, it force-cuts at the last comma-class delimiter past
// the minimum length, or at maxBufferLength/2 if no comma is available
// either.
func (b *SentenceBuffer) extractOne() (string, bool) {
	for i, r := range b.buf {
		if b.sentenceDelimiters[r] && i+1 >= b.minSentenceLength {
			return b.cut(i + 1)
		}
	}

	if len(b.buf) <= b.maxBufferLength {
		return "", false
	}

	lastComma := -1
	for i, r := range b.buf {
		if b.commaDelimiters[r] && i+1 >= b.minSentenceLength {
			lastComma = i
		}
	}
	if lastComma >= 0 {
		return b.cut(lastComma + 1)
	}

	cut := b.maxBufferLength / 2
	if cut < 1 {
		cut = 1
	}
	if cut > len(b.buf) {
		cut = len(b.buf)
	}
	return b.cut(cut)
}

func (b *SentenceBuffer) cut(n int) (string, bool) {
	s := strings.TrimSpace(string(b.buf[:n]))
	b.buf = append([]rune{}, b.buf[n:]...)
	if s == "" {
		return "", false
	}
	return s, true
}

// Flush drains any residue as one final sentence, even if it never hit a
// delimiter or the length floor. Returns "" if there was nothing left.
func (b *SentenceBuffer) Flush() string {
	if len(b.buf) == 0 {
		return ""
	}
	s := strings.TrimSpace(string(b.buf))
	b.buf = b.buf[:0]
	return s
}

// Reset discards any buffered residue without returning it, for use when
// a response is abandoned mid-stream (barge-in).
func (b *SentenceBuffer) Reset() {
	b.buf = b.buf[:0]
}
