// Package pipeline drives the bounded retrieve-grade-compose-verify loop and
// emits the query's event stream.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sweetpotato0/ragline/audit"
	"github.com/sweetpotato0/ragline/cache"
	"github.com/sweetpotato0/ragline/classify"
	"github.com/sweetpotato0/ragline/config"
	"github.com/sweetpotato0/ragline/document"
	"github.com/sweetpotato0/ragline/grade"
	"github.com/sweetpotato0/ragline/pkg/logging"
	"github.com/sweetpotato0/ragline/pkg/telemetry"
	"github.com/sweetpotato0/ragline/retrieval"
	"github.com/sweetpotato0/ragline/websearch"
)

// Options is the caller's per-query contract.
type Options struct {
	UseRag         bool     `json:"useRag"`
	UseHybrid      bool     `json:"useHybrid"`
	UseWeb         bool     `json:"useWeb"`
	AllowedDomains []string `json:"allowedDomains,omitempty"`
	WebMaxResults  int      `json:"webMaxResults,omitempty"`
}

// Retriever is the hybrid retrieval dependency.
type Retriever interface {
	Retrieve(ctx context.Context, query string, useKeyword bool) (*retrieval.Result, error)
}

// WebSearcher is the web-search dependency.
type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int, allowedDomains []string, progress func(websearch.Progress)) (*websearch.Result, error)
}

// RetrievalEntry is the retrieval-cache payload.
type RetrievalEntry struct {
	Candidates     []document.Candidate
	QueryEmbedding []float32
}

// Deps wires the coordinator's collaborators. The default factory builds
// real implementations; tests inject fakes.
type Deps struct {
	Config     *config.Config
	Classifier *classify.Classifier
	Rewriter   *classify.Rewriter
	Retriever  Retriever
	Grader     *grade.Grader
	Verifier   *grade.Verifier

	// Optional collaborators; nil disables the corresponding path.
	WebSearch WebSearcher
	SQLAgent  SQLAgent
	Audit     audit.Store

	ResponseCache  *cache.Cache[FinalData]
	RetrievalCache *cache.Cache[RetrievalEntry]
}

// Coordinator owns the per-query loop state and the event stream.
type Coordinator struct {
	deps   Deps
	logger *slog.Logger
}

// NewCoordinator creates a coordinator. Missing caches are constructed with
// their default shapes.
func NewCoordinator(deps Deps) *Coordinator {
	if deps.ResponseCache == nil {
		deps.ResponseCache = cache.New[FinalData]("response", cache.ResponseTTL, cache.ResponseCapacity)
	}
	if deps.RetrievalCache == nil {
		deps.RetrievalCache = cache.New[RetrievalEntry]("retrieval", cache.RetrievalTTL, cache.RetrievalCapacity)
	}
	return &Coordinator{deps: deps, logger: logging.WithComponent("coordinator")}
}

// Run processes one query, emitting the ordered event stream to sink. It
// never returns an error to the caller; every failure path ends in a final
// event. Emission stops early only when the sink reports closure.
func (c *Coordinator) Run(ctx context.Context, message string, sink Sink, opts Options) {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.run")
	defer telemetry.End(span, nil)

	cfg := c.deps.Config
	opts.WebMaxResults = clampWebMaxResults(opts.WebMaxResults)

	decision := c.deps.Classifier.Classify(ctx, message, classify.Options{
		UseRag: opts.UseRag,
		UseWeb: opts.UseWeb,
	})
	if !sink.Send(agentLog(RolePlanner, fmt.Sprintf(
		"Route: mode=%s complexity=%s targets=%s",
		decision.Mode, decision.Complexity, strings.Join(decision.Targets, ",")))) {
		return
	}

	// The response cache is off entirely under deterministic mock embeddings.
	cachingEnabled := !cfg.UseMockEmbeddings
	respKey := responseCacheKey(opts, message)
	if cachingEnabled {
		if cached, ok := c.deps.ResponseCache.Get(respKey); ok {
			if streamTokens(sink, cached.Text) {
				sink.Send(finalEvent(cached))
			}
			return
		}
	}

	if !opts.UseRag && !opts.UseWeb {
		text := "No retrieval sources are enabled. Enable document retrieval or web search and ask again."
		if streamTokens(sink, text) {
			sink.Send(finalEvent(FinalData{Text: text, Verified: false}))
		}
		return
	}
	if decision.Mode == classify.ModeDirect {
		text := "Direct mode: " + message
		if streamTokens(sink, text) {
			sink.Send(finalEvent(FinalData{Text: text, Verified: false}))
		}
		return
	}

	working := message
	if cfg.EnableQueryRewriting {
		if rw := c.deps.Rewriter.Expand(working); rw.Changed {
			if !sink.Send(agentLog(RolePlanner, "Expanding short query for better recall")) {
				return
			}
			if !sink.Send(rewriteEvent(rw.Original, rw.Rewritten, rw.Reason)) {
				return
			}
			audit.SaveRewriteAsync(c.deps.Audit, rw.Original, rw.Rewritten)
			working = rw.Rewritten
		}
	}

	targets := targetSet(decision.Targets)
	maxPasses := cfg.MaxPasses()

	for pass := 0; pass < maxPasses; pass++ {
		if !sink.Send(agentLog(RoleResearcher,
			fmt.Sprintf("Retrieving evidence (mode: %s)...", c.modeLabel(opts, targets)))) {
			return
		}

		local, qEmb, webResult, fatal := c.gather(ctx, sink, working, opts, targets)
		if fatal != nil {
			c.logger.Error("retrieval failed", "error", fatal)
			sink.Send(agentLog(RoleResearcher, "Retrieval failed: "+fatal.Error()))
			sink.Send(finalEvent(FinalData{
				Text:     "Retrieval failed; please retry.",
				Verified: false,
				Error:    fatal.Error(),
			}))
			return
		}

		candidates := local
		if webResult != nil {
			if !sink.Send(webSearchEvent(webResult.Metadata)) {
				return
			}
			if !sink.Send(agentLog(RoleResearcher,
				fmt.Sprintf("Web search returned %d sources", webResult.Metadata.ResultCount))) {
				return
			}
			candidates = append(candidates, webResult.Chunks...)
		}

		if !sink.Send(agentLog(RoleResearcher, "Grading retrieved chunks...")) {
			return
		}
		gradeRes, err := c.deps.Grader.Grade(ctx, working, candidates, qEmb)
		if err != nil {
			sink.Send(finalEvent(FinalData{Text: "Grading failed; please retry.", Verified: false, Error: err.Error()}))
			return
		}
		approved := c.approve(candidates, gradeRes)
		citations := toCitations(approved)
		if !sink.Send(citationsEvent(citations)) {
			return
		}

		high, medium, low := gradeRes.Summary()
		summary := fmt.Sprintf("%d high, %d medium, %d low", high, medium, low)

		if len(approved) == 0 {
			guidance := guidanceMessage(high, medium, low, opts, webResult != nil)
			if !streamTokens(sink, guidance) {
				return
			}
			ver := c.deps.Verifier.Verify(guidance, approved)
			if !sink.Send(verificationEvent(VerificationData{
				IsValid:      false,
				GradeSummary: summary,
				Feedback:     ver.Feedback,
				Confidence:   ver.Confidence,
			})) {
				return
			}
			if ver.Confidence < 0.5 && pass < maxPasses-1 {
				working = c.refine(ctx, sink, working, ver.Feedback)
				continue
			}
			final := FinalData{Text: guidance, Verified: false, Citations: citations}
			if cachingEnabled && cfg.CacheFailures {
				c.deps.ResponseCache.Set(respKey, final)
			}
			sink.Send(finalEvent(final))
			return
		}

		if !sink.Send(agentLog(RoleWriter, fmt.Sprintf("Composing answer from %d approved sources...", len(approved)))) {
			return
		}
		answer := Compose(approved)
		if !streamTokens(sink, answer) {
			return
		}

		if !sink.Send(agentLog(RoleCritic, "Verifying answer grounding...")) {
			return
		}
		ver := c.deps.Verifier.Verify(answer, approved)
		if !sink.Send(verificationEvent(VerificationData{
			IsValid:      ver.IsValid,
			GradeSummary: summary,
			Feedback:     ver.Feedback,
			Confidence:   ver.Confidence,
		})) {
			return
		}

		if ver.IsValid || pass == maxPasses-1 {
			final := FinalData{Text: answer, Verified: ver.IsValid, Citations: citations}
			if cachingEnabled {
				c.deps.ResponseCache.Set(respKey, final)
			}
			sink.Send(finalEvent(final))
			return
		}

		if !sink.Send(agentLog(RolePlanner, "Verification weak; refining and retrying")) {
			return
		}
		if ver.Confidence < 0.5 {
			working = c.refine(ctx, sink, working, ver.Feedback)
		} else {
			working = message + " (focus: disambiguate terms)"
		}
	}
}

// gather runs the per-pass fan-out: local retrieval (with the retrieval
// cache when web is not in play), the SQL sub-agent, and web search. SQL and
// primary-store failures are fatal; web failures degrade.
func (c *Coordinator) gather(ctx context.Context, sink Sink, working string, opts Options, targets map[string]bool) ([]document.Candidate, []float32, *websearch.Result, error) {
	cfg := c.deps.Config

	webPlanned := opts.UseWeb && c.deps.WebSearch != nil && targets[classify.TargetWeb]
	retKey := retrievalCacheKey(targets, working)

	var local []document.Candidate
	var qEmb []float32
	cacheHit := false
	if !webPlanned {
		if entry, ok := c.deps.RetrievalCache.Get(retKey); ok {
			local, qEmb = entry.Candidates, entry.QueryEmbedding
			cacheHit = true
		}
	}

	if !cacheHit {
		if opts.UseRag {
			res, err := c.deps.Retriever.Retrieve(ctx, working, opts.UseHybrid)
			if err != nil {
				return nil, nil, nil, err
			}
			local, qEmb = res.Candidates, res.QueryEmbedding
		}
		if targets[classify.TargetSQL] && cfg.EnableSQLAgent && c.deps.SQLAgent != nil {
			rows, err := c.deps.SQLAgent.Query(ctx, working)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("sql agent: %w", err)
			}
			local = append(local, sqlCandidates(rows)...)
		}
	}

	var webResult *websearch.Result
	webUsed := false
	if opts.UseWeb && c.deps.WebSearch != nil && (targets[classify.TargetWeb] || len(local) == 0) {
		res, err := c.deps.WebSearch.Search(ctx, working, opts.WebMaxResults, opts.AllowedDomains,
			func(p websearch.Progress) {
				switch p.Stage {
				case websearch.StageSearching:
					sink.Send(agentLog(RoleResearcher, "Searching the web..."))
				case websearch.StageCompleted:
					sink.Send(agentLog(RoleResearcher,
						fmt.Sprintf("Web search completed with %d results", p.ResultCount)))
				}
			})
		if err != nil {
			c.logger.Warn("web search failed", "error", err)
			sink.Send(agentLog(RoleResearcher, "Web search unavailable: "+err.Error()))
		} else {
			webUsed = true
			if res.Metadata.ResultCount > 0 {
				webResult = res
			}
		}
	}

	if !cacheHit && !webUsed && opts.UseRag {
		c.deps.RetrievalCache.Set(retKey, RetrievalEntry{Candidates: local, QueryEmbedding: qEmb})
	}
	return local, qEmb, webResult, nil
}

// approve picks the answerable subset: all high-grade candidates, else the
// first three medium, else (when enabled) the first three low.
func (c *Coordinator) approve(candidates []document.Candidate, res *grade.Result) []document.Candidate {
	high, medium, low := grade.Split(candidates, res)
	if len(high) > 0 {
		return high
	}
	if len(medium) > 0 {
		if len(medium) > 3 {
			medium = medium[:3]
		}
		return medium
	}
	if c.deps.Config.AllowLowGradeFallback && len(low) > 0 {
		if len(low) > 3 {
			low = low[:3]
		}
		return low
	}
	return nil
}

// refine asks the quality rewriter for a better query, emits and persists
// the rewrite, and returns the new working query.
func (c *Coordinator) refine(ctx context.Context, sink Sink, working, feedback string) string {
	rw := c.deps.Rewriter.Refine(ctx, working, feedback)
	sink.Send(rewriteEvent(rw.Original, rw.Rewritten, rw.Reason))
	audit.SaveRewriteAsync(c.deps.Audit, rw.Original, rw.Rewritten)
	return rw.Rewritten
}

func (c *Coordinator) modeLabel(opts Options, targets map[string]bool) string {
	label := "vector"
	if opts.UseHybrid {
		label = "hybrid"
	}
	if targets[classify.TargetSQL] && c.deps.Config.EnableSQLAgent && c.deps.SQLAgent != nil {
		label += "+sql"
	}
	if opts.UseWeb && targets[classify.TargetWeb] {
		label += "+web"
	}
	return label
}

func toCitations(approved []document.Candidate) []Citation {
	out := make([]Citation, 0, len(approved))
	for _, c := range approved {
		out = append(out, Citation{
			DocumentID:  c.DocumentID,
			Source:      c.Source,
			ChunkIndex:  c.ChunkIndex,
			IsWebSource: c.IsWebSource(),
		})
	}
	return out
}

// guidanceMessage explains a no-evidence outcome with grade counts and
// actionable suggestions.
func guidanceMessage(high, medium, low int, opts Options, webRan bool) string {
	var sb strings.Builder
	if !opts.UseRag {
		sb.WriteString("No supporting evidence found on the web for your question.\n\n")
	} else {
		sb.WriteString("No supporting evidence found for your question.\n\n")
	}
	fmt.Fprintf(&sb, "Grading summary: %d high, %d medium, %d low relevance chunks.\n\n", high, medium, low)

	sb.WriteString("Suggestions:\n")
	if opts.UseRag {
		sb.WriteString("- Rephrase the question with more specific terminology\n")
		sb.WriteString("- Ingest documents that cover this topic\n")
		if !opts.UseWeb {
			sb.WriteString("- Enable web search to widen the evidence pool\n")
		}
	} else {
		sb.WriteString("- Broaden or remove the allowed-domain filter\n")
		sb.WriteString("- Simplify the query to common search terms\n")
	}

	switch {
	case webRan:
		sb.WriteString("\nWeb search ran but returned no usable results.")
	case opts.UseWeb:
		sb.WriteString("\nWeb search was attempted without results.")
	default:
		sb.WriteString("\nWeb search was not enabled.")
	}
	return sb.String()
}

func clampWebMaxResults(n int) int {
	if n < 1 {
		return 5
	}
	if n > 8 {
		return 8
	}
	return n
}

func targetSet(targets []string) map[string]bool {
	set := make(map[string]bool, len(targets))
	for _, t := range targets {
		set[t] = true
	}
	return set
}

func responseCacheKey(opts Options, message string) string {
	domains := make([]string, len(opts.AllowedDomains))
	copy(domains, opts.AllowedDomains)
	sort.Strings(domains)
	return cache.Normalize(fmt.Sprintf("resp:%t:%t:%t:%s:%d:%s",
		opts.UseRag, opts.UseHybrid, opts.UseWeb,
		strings.Join(domains, ","), opts.WebMaxResults, message))
}

func retrievalCacheKey(targets map[string]bool, working string) string {
	sorted := make([]string, 0, len(targets))
	for t := range targets {
		sorted = append(sorted, t)
	}
	sort.Strings(sorted)
	return cache.Normalize(fmt.Sprintf("ret:%s:%s", strings.Join(sorted, ","), working))
}
