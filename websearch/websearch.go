// Package websearch performs cached, concurrency-bounded web retrieval with
// per-query failure throttling.
package websearch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sweetpotato0/ragline/cache"
	"github.com/sweetpotato0/ragline/document"
	raglinerr "github.com/sweetpotato0/ragline/errors"
	"github.com/sweetpotato0/ragline/pkg/logging"
	"github.com/sweetpotato0/ragline/pkg/telemetry"
)

// MaxAllowedDomains caps the allowlist passed to the provider.
const MaxAllowedDomains = 20

// Hit is one raw provider result. Relevance is optional; absent relevance
// falls back to a rank-based score.
type Hit struct {
	Title     string
	URL       string
	Content   string
	Relevance *float32
}

// SearchOptions are forwarded to the provider.
type SearchOptions struct {
	MaxResults     int
	AllowedDomains []string
	ContextTokens  int
	Location       string
}

// Provider executes the actual web search.
type Provider interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]Hit, error)
}

// SourceMeta identifies one web source that contributed results.
type SourceMeta struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Metadata describes a completed web search.
type Metadata struct {
	Query       string       `json:"query"`
	ResultCount int          `json:"resultCount"`
	Sources     []SourceMeta `json:"sources"`
	Cached      bool         `json:"cached"`
}

// Result is the coordinator-facing outcome: web hits shaped as candidates.
type Result struct {
	Chunks   []document.Candidate
	Metadata Metadata
}

// Progress stages reported during a streaming search.
const (
	StageInProgress = "in_progress"
	StageSearching  = "searching"
	StageCompleted  = "completed"
)

// Progress is one streaming update. ResultCount is set on completion.
type Progress struct {
	Stage       string
	ResultCount int
}

type throttleRecord struct {
	count       int
	lastAttempt time.Time
}

// Client wraps a Provider with the web cache, a fair process-global
// semaphore, and a per-query failure throttle.
type Client struct {
	provider Provider
	cache    *cache.Cache[Result]
	sem      *semaphore.Weighted

	throttleBase  time.Duration
	contextTokens int
	location      string
	allowlist     []string

	mu       sync.Mutex
	throttle map[string]*throttleRecord

	now func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithThrottleBase sets the base of the exponential skip window.
func WithThrottleBase(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.throttleBase = d
		}
	}
}

// WithContextTokens bounds the provider context per result.
func WithContextTokens(n int) Option {
	return func(c *Client) { c.contextTokens = n }
}

// WithLocation passes a caller location hint to the provider.
func WithLocation(loc string) Option {
	return func(c *Client) { c.location = loc }
}

// WithDefaultAllowlist sets the domains used when the caller passes none.
func WithDefaultAllowlist(domains []string) Option {
	return func(c *Client) { c.allowlist = domains }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a web-search client. concurrency bounds in-flight provider
// calls process-wide; acquisition is FIFO and release is guaranteed on every
// exit path.
func New(provider Provider, webCache *cache.Cache[Result], concurrency int, opts ...Option) *Client {
	if concurrency <= 0 {
		concurrency = 3
	}
	c := &Client{
		provider:     provider,
		cache:        webCache,
		sem:          semaphore.NewWeighted(int64(concurrency)),
		throttleBase: 5 * time.Second,
		throttle:     make(map[string]*throttleRecord),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search runs a web search. An empty trimmed query returns an empty result
// without error. A query inside its throttle window returns ErrThrottled.
// progress may be nil.
func (c *Client) Search(ctx context.Context, query string, maxResults int, allowedDomains []string, progress func(Progress)) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &Result{Metadata: Metadata{Query: query}}, nil
	}
	emit := func(p Progress) {
		if progress != nil {
			progress(p)
		}
	}
	emit(Progress{Stage: StageInProgress})

	domains := allowedDomains
	if len(domains) == 0 {
		domains = c.allowlist
	}
	if len(domains) > MaxAllowedDomains {
		domains = domains[:MaxAllowedDomains]
	}

	key := cacheKey(query, domains, maxResults)
	if cached, ok := c.cache.Get(key); ok {
		telemetry.M().WebSearchCacheHit(ctx)
		cached.Metadata.Cached = true
		emit(Progress{Stage: StageCompleted, ResultCount: cached.Metadata.ResultCount})
		return &cached, nil
	}

	if skip, wait := c.shouldSkip(query); skip {
		logging.Logger().Info("web search throttled",
			"component", "websearch", "query", query, "retry_in", wait)
		return nil, fmt.Errorf("query throttled for %s: %w", wait, raglinerr.ErrThrottled)
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	emit(Progress{Stage: StageSearching})
	hits, err := c.provider.Search(ctx, query, SearchOptions{
		MaxResults:     maxResults,
		AllowedDomains: domains,
		ContextTokens:  c.contextTokens,
		Location:       c.location,
	})
	if err != nil {
		telemetry.M().WebSearchError(ctx)
		return nil, fmt.Errorf("web search: %w", err)
	}

	result := buildResult(query, hits)
	if len(hits) == 0 {
		c.recordFailure(query)
	} else {
		c.clearFailure(query)
		c.cache.Set(key, *result)
	}

	emit(Progress{Stage: StageCompleted, ResultCount: result.Metadata.ResultCount})
	return result, nil
}

func buildResult(query string, hits []Hit) *Result {
	result := &Result{Metadata: Metadata{Query: query, ResultCount: len(hits)}}
	for rank, hit := range hits {
		score := float32(1) / float32(rank+1)
		if hit.Relevance != nil {
			score = *hit.Relevance
		}
		result.Chunks = append(result.Chunks, document.Candidate{
			ChunkID:    document.WebIDPrefix + urlHash(hit.URL),
			ChunkIndex: rank,
			Content:    hit.Content,
			Source:     hit.URL,
			Score:      score,
		})
		result.Metadata.Sources = append(result.Metadata.Sources, SourceMeta{
			Title: hit.Title,
			URL:   hit.URL,
		})
	}
	return result
}

// shouldSkip reports whether query is inside its exponential skip window and
// how long until the next attempt is allowed.
func (c *Client) shouldSkip(query string) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.throttle[throttleKey(query)]
	if !ok {
		return false, 0
	}
	window := c.throttleBase * (1 << rec.count)
	elapsed := c.now().Sub(rec.lastAttempt)
	if elapsed < window {
		return true, window - elapsed
	}
	return false, 0
}

func (c *Client) recordFailure(query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := throttleKey(query)
	rec, ok := c.throttle[key]
	if !ok {
		rec = &throttleRecord{}
		c.throttle[key] = rec
	}
	rec.count++
	rec.lastAttempt = c.now()
}

func (c *Client) clearFailure(query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.throttle, throttleKey(query))
}

func throttleKey(query string) string {
	return cache.Normalize(query)
}

func cacheKey(query string, domains []string, maxResults int) string {
	sorted := make([]string, len(domains))
	copy(sorted, domains)
	sort.Strings(sorted)
	return cache.Normalize(fmt.Sprintf("websearch:%s:%s:%d", query, strings.Join(sorted, ","), maxResults))
}

func urlHash(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:8])
}
