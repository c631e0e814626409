package convert

import (
	"context"
	"strings"
	"unicode/utf8"
)

// PlainConverter normalizes plain text: valid UTF-8, LF line endings, no trailing
// whitespace, at most one blank line between paragraphs.
type PlainConverter struct{}

// Convert returns the normalized text.
func (PlainConverter) Convert(_ context.Context, content []byte) (string, error) {
	return NormalizeText(ValidUTF8(content)), nil
}

// ValidUTF8 returns content as string, replacing invalid UTF-8 sequences with the replacement character.
func ValidUTF8(content []byte) string {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "\ufffd")
	}
	return string(content)
}

// NormalizeText converts CRLF/CR to LF, trims trailing whitespace on each line,
// collapses runs of blank lines into one, and trims the result.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\f\v")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
