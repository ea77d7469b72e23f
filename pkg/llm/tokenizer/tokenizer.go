// Package tokenizer counts and trims text by model tokens.
package tokenizer

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE used by the gpt-4o family.
const DefaultEncoding = "o200k_base"

// charsPerToken is the fallback ratio used when no encoder is available.
const charsPerToken = 4

// Tokenizer counts tokens with tiktoken, or estimates them when the encoding
// cannot be loaded (for example without network access to fetch BPE ranks).
type Tokenizer struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	err      error
}

// New creates a tokenizer for the given encoding. The encoding is loaded
// lazily on first use.
func New(encoding string) *Tokenizer {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Tokenizer{encoding: encoding}
}

// NewEstimator creates a tokenizer that never loads an encoding.
func NewEstimator() *Tokenizer {
	t := &Tokenizer{}
	t.once.Do(func() {})
	return t
}

func (t *Tokenizer) encoder() *tiktoken.Tiktoken {
	t.once.Do(func() {
		t.enc, t.err = tiktoken.GetEncoding(t.encoding)
	})
	return t.enc
}

// Err returns the error from loading the encoding, if any.
func (t *Tokenizer) Err() error {
	t.encoder()
	return t.err
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	if enc := t.encoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimate(text)
}

// Truncate returns the longest prefix of text that fits in maxTokens and
// whether anything was cut.
func (t *Tokenizer) Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return text, false
	}
	if enc := t.encoder(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text, false
		}
		return enc.Decode(tokens[:maxTokens]), true
	}

	limit := maxTokens * charsPerToken
	if len(text) <= limit {
		return text, false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut], true
}

func estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}
