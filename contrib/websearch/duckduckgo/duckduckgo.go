// Package duckduckgo implements websearch.Provider against the DuckDuckGo
// HTML endpoint. No API key required.
package duckduckgo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sweetpotato0/ragline/contrib/tokenizer/tiktoken"
	"github.com/sweetpotato0/ragline/websearch"
)

const endpoint = "https://html.duckduckgo.com/html/"

// Config holds provider configuration
type Config struct {
	Endpoint  string
	UserAgent string
	Timeout   time.Duration
	// Encoding names the tiktoken encoding used to trim result content to
	// the caller's context budget. Empty disables trimming.
	Encoding string
}

// DefaultConfig returns default provider configuration
func DefaultConfig() *Config {
	return &Config{
		Endpoint:  endpoint,
		UserAgent: "Mozilla/5.0 (compatible; ragline/1.0)",
		Timeout:   15 * time.Second,
		Encoding:  "cl100k_base",
	}
}

// Provider scrapes DuckDuckGo HTML search results.
type Provider struct {
	config    *Config
	client    *http.Client
	tokenizer *tiktoken.Tokenizer
}

// New creates a DuckDuckGo provider.
func New(config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Endpoint == "" {
		config.Endpoint = endpoint
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	p := &Provider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
	if config.Encoding != "" {
		tok, err := tiktoken.New(config.Encoding)
		if err != nil {
			return nil, fmt.Errorf("duckduckgo tokenizer: %w", err)
		}
		p.tokenizer = tok
	}
	return p, nil
}

// Search implements websearch.Provider.
func (p *Provider) Search(ctx context.Context, query string, opts websearch.SearchOptions) ([]websearch.Hit, error) {
	form := url.Values{}
	form.Set("q", buildQuery(query, opts.AllowedDomains, opts.Location))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", p.config.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo parse: %w", err)
	}

	max := opts.MaxResults
	if max <= 0 {
		max = 5
	}

	var hits []websearch.Hit
	doc.Find(".result").EachWithBreak(func(i int, s *goquery.Selection) bool {
		link := s.Find(".result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		snippet := strings.TrimSpace(s.Find(".result__snippet").Text())
		if p.tokenizer != nil && opts.ContextTokens > 0 {
			snippet = p.tokenizer.Truncate(snippet, opts.ContextTokens)
		}
		hits = append(hits, websearch.Hit{
			Title:   strings.TrimSpace(link.Text()),
			URL:     resolveRedirect(href),
			Content: snippet,
		})
		return len(hits) < max
	})
	return hits, nil
}

// buildQuery appends site: filters for the allowlist and a location hint.
func buildQuery(query string, domains []string, location string) string {
	var sb strings.Builder
	sb.WriteString(query)
	if len(domains) > 0 {
		filters := make([]string, 0, len(domains))
		for _, d := range domains {
			d = strings.TrimSpace(d)
			if d != "" {
				filters = append(filters, "site:"+d)
			}
		}
		if len(filters) > 0 {
			sb.WriteString(" (")
			sb.WriteString(strings.Join(filters, " OR "))
			sb.WriteString(")")
		}
	}
	if location != "" {
		sb.WriteString(" ")
		sb.WriteString(location)
	}
	return sb.String()
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" {
		return "https:" + href
	}
	return href
}
