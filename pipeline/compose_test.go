package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/sweetpotato0/ragline/document"
)

func TestSmartTruncateLongText(t *testing.T) {
	text := strings.Repeat("evidence retrieval pipeline grading verification loop. ", 13)
	if len(text) <= 500 {
		t.Fatalf("test input too short: %d", len(text))
	}
	got := SmartTruncate(text, 500)
	if len(got) > 500 {
		t.Fatalf("truncated text too long: %d chars", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("missing ellipsis: %q", got[len(got)-10:])
	}
}

func TestSmartTruncateClosesCodeFence(t *testing.T) {
	text := "Intro paragraph.\n```go\n" + strings.Repeat("fmt.Println(\"line\")\n", 40)
	got := SmartTruncate(text, 500)
	if !strings.HasSuffix(got, "\n...\n```") {
		t.Fatalf("unclosed fence not closed: %q", got[len(got)-20:])
	}
}

func TestSmartTruncateShortTextUntouched(t *testing.T) {
	if got := SmartTruncate("short", 500); got != "short" {
		t.Fatalf("short text modified: %q", got)
	}
}

func TestCleanTextStripsNoise(t *testing.T) {
	in := "---\ntitle: Some Doc\n---\n<div>Body text here.</div>\n\n\n\nauthor: someone\nMore body."
	got := CleanText(in)
	if strings.Contains(got, "---") || strings.Contains(got, "<div>") {
		t.Fatalf("markup survived: %q", got)
	}
	if strings.Contains(got, "author:") {
		t.Fatalf("metadata line survived: %q", got)
	}
	if !strings.Contains(got, "Body text here.") || !strings.Contains(got, "More body.") {
		t.Fatalf("content lost: %q", got)
	}
	if strings.Contains(got, "\n\n\n") {
		t.Fatalf("newline runs not collapsed: %q", got)
	}
}

func TestComposeUsesFirstThreeWithSources(t *testing.T) {
	approved := []document.Candidate{
		{ChunkID: "a", DocumentID: "d1", Content: "First excerpt."},
		{ChunkID: "b", DocumentID: "d2", Content: "Second excerpt.", Source: "https://docs.example.com/page"},
		{ChunkID: "c", DocumentID: "d3", Content: "Third excerpt.", Source: "manual"},
		{ChunkID: "d", DocumentID: "d4", Content: "Fourth excerpt must not appear."},
	}
	answer := Compose(approved)
	if !strings.HasPrefix(answer, AnswerPrefix) {
		t.Fatalf("missing evidence prefix: %q", answer[:40])
	}
	if strings.Contains(answer, "Fourth excerpt") {
		t.Fatal("more than three excerpts composed")
	}
	if !strings.Contains(answer, "*[Source: document d1]*") {
		t.Fatal("missing document fallback label")
	}
	if !strings.Contains(answer, "*[Source: docs.example.com]*") {
		t.Fatal("missing hostname label")
	}
	if !strings.Contains(answer, "*[Source: manual]*") {
		t.Fatal("missing raw source label")
	}
}

func TestComposeOmitsPrefixForWebLead(t *testing.T) {
	approved := []document.Candidate{
		{ChunkID: document.WebIDPrefix + "abc", Content: "Web excerpt.", Source: "https://example.com/a"},
	}
	answer := Compose(approved)
	if strings.HasPrefix(answer, AnswerPrefix) {
		t.Fatal("web-led answer must omit the evidence prefix")
	}
}

func TestStreamTokensChunking(t *testing.T) {
	sink := &CollectorSink{}
	text := strings.Repeat("x", 150)
	if !streamTokens(sink, text) {
		t.Fatal("sink closed unexpectedly")
	}
	if len(sink.Events) != 3 {
		t.Fatalf("expected 3 token events, got %d", len(sink.Events))
	}
	var rebuilt strings.Builder
	for _, e := range sink.Events {
		if e.Type != TypeTokens {
			t.Fatalf("unexpected event type %s", e.Type)
		}
		if len(e.Tokens.Text) > tokenChunkSize {
			t.Fatalf("token slice too long: %d", len(e.Tokens.Text))
		}
		rebuilt.WriteString(e.Tokens.Text)
	}
	if rebuilt.String() != text {
		t.Fatal("token concatenation does not reproduce the text")
	}
}

func TestStreamTokensKeepsRunesWhole(t *testing.T) {
	// The first chunk boundary falls in the middle of the two-byte "é".
	text := strings.Repeat("a", tokenChunkSize-1) + "é… the rest of the answer"
	sink := &CollectorSink{}
	if !streamTokens(sink, text) {
		t.Fatal("sink closed unexpectedly")
	}
	var rebuilt strings.Builder
	for _, e := range sink.Events {
		if !utf8.ValidString(e.Tokens.Text) {
			t.Fatalf("token slice is not valid UTF-8: %q", e.Tokens.Text)
		}
		rebuilt.WriteString(e.Tokens.Text)
	}
	if rebuilt.String() != text {
		t.Fatalf("token concatenation does not reproduce the text: %q", rebuilt.String())
	}
}

func TestSmartTruncateKeepsRunesWhole(t *testing.T) {
	// No sentence break or space near the cut, forcing the hard-cut path
	// straight through a run of multi-byte runes.
	text := strings.Repeat("é", 400)
	got := SmartTruncate(text, 500)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated text is not valid UTF-8: %q", got[len(got)-10:])
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("missing ellipsis: %q", got[len(got)-10:])
	}
	if len(got) > 500 {
		t.Fatalf("truncated text too long: %d bytes", len(got))
	}
}
