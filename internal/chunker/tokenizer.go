package chunker

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Counter measures text length in tokens.
type Counter interface {
	CountTokens(text string) int
}

// ApproxCounter estimates four characters per token. It needs no vocabulary.
type ApproxCounter struct{}

// CountTokens returns ceil(runes/4).
func (ApproxCounter) CountTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// TiktokenCounter counts tokens with a BPE encoding such as cl100k_base.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

var loaderOnce sync.Once

// NewTiktokenCounter loads the named encoding from the bundled offline vocabulary.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// CountTokens returns the number of BPE tokens in text. Special token text is counted, never rejected.
func (c *TiktokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, []string{"all"}, nil))
}

// NewCounter returns the counter for a configured tokenizer name ("approx" or a tiktoken encoding).
func NewCounter(name string) (Counter, error) {
	if name == "approx" {
		return ApproxCounter{}, nil
	}
	return NewTiktokenCounter(name)
}
