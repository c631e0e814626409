// Package chunker splits text into token-bounded chunks.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// MinTokens is the smallest accepted per-chunk budget.
const MinTokens = 16

// Boundaries tried in order before falling back to splitting inside a word.
var separators = []string{"\n\n", "\n", ". ", " "}

// Chunker splits text into chunks whose token count, header included, stays within maxTokens.
type Chunker struct {
	counter   Counter
	maxTokens int
}

// NewChunker creates a chunker with the given counter and per-chunk budget (in tokens).
func NewChunker(counter Counter, maxTokens int) *Chunker {
	if maxTokens < MinTokens {
		maxTokens = MinTokens
	}
	if counter == nil {
		counter = ApproxCounter{}
	}
	return &Chunker{counter: counter, maxTokens: maxTokens}
}

// MaxTokens returns the per-chunk budget.
func (c *Chunker) MaxTokens() int { return c.maxTokens }

// CountTokens returns the token count of text.
func (c *Chunker) CountTokens(text string) int { return c.counter.CountTokens(text) }

// Fits reports whether text is within the per-chunk budget.
func (c *Chunker) Fits(text string) bool { return c.counter.CountTokens(text) <= c.maxTokens }

// ChunkText splits text into contiguous chunks, each prefixed by header.
// Paragraph, line, and sentence boundaries are preferred over splitting words.
// Empty or whitespace-only text yields no chunks.
func (c *Chunker) ChunkText(text, header string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	prefix := c.prefix(header)

	var chunks []string
	cur := ""
	flush := func() {
		if body := strings.TrimSpace(cur); body != "" {
			chunks = append(chunks, prefix+body)
		}
		cur = ""
	}
	for _, p := range c.pieces(prefix, text, 0) {
		if cur == "" || c.fits(prefix, cur+p) {
			cur += p
			continue
		}
		flush()
		cur = p
	}
	flush()
	return chunks
}

// prefix renders the header line, truncating it to half the budget when it would crowd out the body.
func (c *Chunker) prefix(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	half := c.maxTokens / 2
	if c.counter.CountTokens(header+"\n\n") > half {
		header = c.longestFitting(header, half-1)
	}
	return header + "\n\n"
}

// fits measures s the way it is emitted, trimmed. BPE tokenizers can count a trimmed string
// higher than the untrimmed one.
func (c *Chunker) fits(prefix, s string) bool {
	return c.counter.CountTokens(prefix+strings.TrimSpace(s)) <= c.maxTokens
}

// pieces returns contiguous segments of text that each fit with prefix. Joining them yields text.
func (c *Chunker) pieces(prefix, text string, level int) []string {
	if c.fits(prefix, text) {
		return []string{text}
	}
	if level >= len(separators) {
		return c.splitRunes(prefix, text)
	}
	parts := splitKeep(text, separators[level])
	if len(parts) == 1 {
		return c.pieces(prefix, text, level+1)
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, c.pieces(prefix, p, level+1)...)
	}
	return out
}

// splitRunes hard-splits text with no usable boundary.
func (c *Chunker) splitRunes(prefix, text string) []string {
	var out []string
	for text != "" {
		head := c.longestFittingWith(prefix, text)
		if head == "" {
			// A single rune always goes through so the loop terminates.
			_, size := utf8.DecodeRuneInString(text)
			head = text[:size]
		}
		out = append(out, head)
		text = text[len(head):]
	}
	return out
}

// longestFitting returns the longest rune prefix of s within limit tokens.
func (c *Chunker) longestFitting(s string, limit int) string {
	runes := []rune(s)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.counter.CountTokens(string(runes[:mid])) <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}

// longestFittingWith returns the longest rune prefix of s that fits together with prefix.
// The search window is bounded so pathological inputs stay cheap.
func (c *Chunker) longestFittingWith(prefix, s string) string {
	runes := []rune(s)
	hi := len(runes)
	if window := c.maxTokens * 16; hi > window {
		hi = window
	}
	lo := 0
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.fits(prefix, string(runes[:mid])) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}

// splitKeep splits s after each occurrence of sep, keeping sep attached to the left part.
func splitKeep(s, sep string) []string {
	var out []string
	for {
		i := strings.Index(s, sep)
		if i < 0 {
			break
		}
		out = append(out, s[:i+len(sep)])
		s = s[i+len(sep):]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
