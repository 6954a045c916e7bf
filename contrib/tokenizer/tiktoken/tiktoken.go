// Package tiktoken wraps the tiktoken-go BPE encoder for token counting and
// token-budget truncation of web-search context.
package tiktoken

import (
	"github.com/pkoukk/tiktoken-go"
)

type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New resolves an encoder by model name, falling back to encoding name.
func New(name string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, err
		}
	}
	return &Tokenizer{enc: enc}, nil
}

func (t *Tokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *Tokenizer) Decode(ids []int) string {
	return t.enc.Decode(ids)
}

func (t *Tokenizer) CountTokens(text string) int {
	return len(t.Encode(text))
}

// Truncate cuts text to at most maxTokens tokens, re-decoding the kept
// prefix. maxTokens <= 0 returns the text unchanged.
func (t *Tokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	ids := t.Encode(text)
	if len(ids) <= maxTokens {
		return text
	}
	return t.Decode(ids[:maxTokens])
}
