package pipeline

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sweetpotato0/ragline/document"
)

// TruncateLength is the per-excerpt budget of the composer.
const TruncateLength = 500

// AnswerPrefix introduces answers built from local evidence.
const AnswerPrefix = "**Answer (from evidence):**\n\n"

var (
	frontmatterRegex = regexp.MustCompile(`(?s)^---\n.*?\n---\n?`)
	xmlTagRegex      = regexp.MustCompile(`</?[^>]+>`)
	metadataRegex    = regexp.MustCompile(`(?m)^(title|description|author|published|created|lastUpdated|chatbotDeprioritize|source_url|html|md):\s*.*$`)
	newlineRunRegex  = regexp.MustCompile(`\n{3,}`)
)

// CleanText strips frontmatter, markup tags and metadata lines from an
// evidence excerpt.
func CleanText(text string) string {
	text = frontmatterRegex.ReplaceAllString(text, "")
	text = xmlTagRegex.ReplaceAllString(text, "")
	text = metadataRegex.ReplaceAllString(text, "")
	text = newlineRunRegex.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// SmartTruncate cuts text to at most limit characters at a natural boundary.
// A cut inside an unclosed code fence closes the fence; otherwise it prefers
// a sentence or paragraph break in the last 30%, then a space in the last
// 20%, then a hard cut. Truncation is marked with "..." (or a fenced
// ellipsis when closing a code block).
func SmartTruncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}

	if strings.Count(text[:runeCut(text, limit)], "```")%2 == 1 {
		return text[:runeCut(text, limit)] + "\n...\n```"
	}

	cut := text[:runeCut(text, limit-len("..."))]
	searchFrom := limit - limit*30/100
	best := -1
	for _, sep := range []string{". ", ".\n", "\n\n"} {
		if idx := strings.LastIndex(cut, sep); idx >= searchFrom && idx > best {
			best = idx
		}
	}
	if best > 0 {
		return strings.TrimRight(cut[:best+1], " \n") + "..."
	}

	spaceFrom := limit - limit*20/100
	if idx := strings.LastIndex(cut, " "); idx >= spaceFrom {
		return cut[:idx] + "..."
	}
	return cut + "..."
}

// runeCut backs idx up to the nearest rune boundary so a byte-indexed slice
// of s never splits a multi-byte rune.
func runeCut(s string, idx int) int {
	for idx > 0 && !utf8.RuneStart(s[idx]) {
		idx--
	}
	return idx
}

// sourceLabel renders the citation suffix for one approved candidate.
func sourceLabel(c document.Candidate) string {
	switch {
	case c.Source != "":
		if u, err := url.Parse(c.Source); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
		return c.Source
	case c.DocumentID != "":
		return "document " + c.DocumentID
	default:
		return "unknown"
	}
}

// Compose builds the extractive answer from the first three approved
// candidates. The evidence prefix is omitted when the lead candidate came
// from web search.
func Compose(approved []document.Candidate) string {
	limit := len(approved)
	if limit > 3 {
		limit = 3
	}

	parts := make([]string, 0, limit)
	for _, c := range approved[:limit] {
		excerpt := SmartTruncate(CleanText(c.Content), TruncateLength)
		parts = append(parts, excerpt+"\n\n*[Source: "+sourceLabel(c)+"]*")
	}
	answer := strings.Join(parts, "\n\n")

	if limit > 0 && !approved[0].IsWebSource() {
		answer = AnswerPrefix + answer
	}
	return answer
}

// tokenChunkSize bounds each streamed tokens event.
const tokenChunkSize = 60

// streamTokens splits text into slices of at most tokenChunkSize bytes,
// never inside a multi-byte rune, and sends them in order. It reports
// whether the sink stayed open.
func streamTokens(sink Sink, text string) bool {
	for start := 0; start < len(text); {
		end := start + tokenChunkSize
		if end >= len(text) {
			end = len(text)
		} else if b := runeCut(text[start:], tokenChunkSize); b > 0 {
			end = start + b
		}
		if !sink.Send(tokensEvent(text[start:end])) {
			return false
		}
		start = end
	}
	return true
}
