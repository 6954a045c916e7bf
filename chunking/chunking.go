package chunking

import "strings"

// Chunker produces consecutive overlapping windows over a text. The same
// input always yields the same windows.
type Chunker struct {
	size    int
	overlap int
}

// Option customizes the chunker.
type Option func(*Chunker)

// WithChunkSize overrides the default window size (characters).
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap configures overlap (characters) between consecutive windows.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New constructs a chunker with 1000-char windows and a 100-char overlap.
func New(opts ...Option) *Chunker {
	c := &Chunker{size: 1000, overlap: 100}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size - 1
	}
	return c
}

// Split windows the text. The last window may be shorter than the configured
// size; empty input produces no windows.
func (c *Chunker) Split(text string) []string {
	if len(strings.TrimSpace(text)) == 0 {
		return nil
	}
	step := c.size - c.overlap
	var out []string
	for start := 0; ; start += step {
		end := start + c.size
		if end >= len(text) {
			out = append(out, text[start:])
			break
		}
		out = append(out, text[start:end])
	}
	return out
}

// Size returns the configured window size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured window overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Reassemble joins windows produced by Split back into the original text by
// dropping the leading overlap of every window after the first.
func Reassemble(windows []string, overlap int) string {
	if len(windows) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(windows[0])
	for _, w := range windows[1:] {
		if len(w) > overlap {
			b.WriteString(w[overlap:])
		}
	}
	return b.String()
}
