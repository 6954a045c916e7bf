package duckduckgo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sweetpotato0/ragline/websearch"
)

const resultsPage = `<html><body>
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fvectors">Vector search guide</a>
  <div class="result__snippet">How vector search works with embeddings.</div>
</div>
<div class="result">
  <a class="result__a" href="https://other.example/page">Other page</a>
  <div class="result__snippet">Second snippet.</div>
</div>
</body></html>`

func TestSearchParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if q := r.PostForm.Get("q"); q == "" {
			t.Fatal("missing query")
		}
		_, _ = w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	p, err := New(&Config{Endpoint: srv.URL, Encoding: ""})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hits, err := p.Search(context.Background(), "vector search", websearch.SearchOptions{MaxResults: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].URL != "https://example.com/vectors" {
		t.Fatalf("redirect not unwrapped: %s", hits[0].URL)
	}
	if hits[0].Title != "Vector search guide" {
		t.Fatalf("unexpected title: %q", hits[0].Title)
	}
}

func TestSearchRespectsMaxResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	p, err := New(&Config{Endpoint: srv.URL, Encoding: ""})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hits, err := p.Search(context.Background(), "anything", websearch.SearchOptions{MaxResults: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
}

func TestBuildQuerySiteFilters(t *testing.T) {
	q := buildQuery("caching", []string{"example.com", "docs.example.org"}, "")
	want := "caching (site:example.com OR site:docs.example.org)"
	if q != want {
		t.Fatalf("got %q want %q", q, want)
	}
}

func TestSearchErrorOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := New(&Config{Endpoint: srv.URL, Encoding: ""})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Search(context.Background(), "anything", websearch.SearchOptions{}); err == nil {
		t.Fatal("expected error on 429")
	}
}
